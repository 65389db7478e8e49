// Package quote implements QuoteEngine (spec §4.5): a pure, stateless
// Dutch-auction pricing computation safe to call concurrently from any
// number of API handlers.
package quote

import (
	"math/big"
	"time"

	"github.com/baseswap/orchestrator/internal/apperr"
)

// Urgency selects the Dutch-auction duration.
type Urgency string

const (
	UrgencyFast   Urgency = "fast"
	UrgencyNormal Urgency = "normal"
	UrgencySlow   Urgency = "slow"
)

func durationFor(u Urgency) time.Duration {
	switch u {
	case UrgencyFast:
		return 180 * time.Second
	case UrgencySlow:
		return 600 * time.Second
	default:
		return 300 * time.Second
	}
}

// PriceSnapshot is the read-only market price input, expressed as
// destination-token units per one source-token unit, given as the exact
// ratio RateNumerator/RateDenominator to stay in integer arithmetic.
type PriceSnapshot struct {
	RateNumerator   *big.Int
	RateDenominator *big.Int
}

// bpsDenominator is the fixed-point scale applied to basis-point-style
// percentage fields (premium, slippage, protocol/network fee rates).
const bpsDenominator = 10_000

// Fees describes the fee parameters applied to a quote, all in basis
// points of the gross destination amount (source amount times rate).
type Fees struct {
	ProtocolBps uint32
	NetworkBps  uint32
}

// Request is the input to Quote.
type Request struct {
	SourceToken      string
	DestinationToken string
	SourceAmount     *big.Int
	Urgency          Urgency
	Price            PriceSnapshot
	Fees             Fees
	PremiumBps       uint32 // Dutch auction start-price premium over rate
	SlippageBps      uint32 // Dutch auction end-price discount under rate
	DecimalsDest     uint8
}

// DutchAuction describes the linear price decay offered to takers.
type DutchAuction struct {
	StartPrice *big.Rat
	EndPrice   *big.Rat
	Duration   time.Duration
}

// FeeBreakdown is the fee amounts deducted from the destination payout,
// denominated in destination-token base units.
type FeeBreakdown struct {
	Protocol *big.Int
	Network  *big.Int
	Total    *big.Int
}

// Response is the full quote returned to the caller.
type Response struct {
	DestinationAmount *big.Int
	Rate              *big.Rat
	DutchAuction      DutchAuction
	Fees              FeeBreakdown
	ValidUntil        time.Time
}

// Engine computes quotes. It holds no mutable state.
type Engine struct{}

// New returns a stateless QuoteEngine.
func New() *Engine { return &Engine{} }

// Quote computes dst_amount, rate, dutch_auction, and fees for req. No
// I/O beyond the caller-supplied PriceSnapshot; safe for concurrent use.
func (e *Engine) Quote(req Request, now time.Time) (Response, error) {
	if req.SourceAmount == nil || req.SourceAmount.Sign() <= 0 {
		return Response{}, apperr.New(apperr.InvalidInput, "source_amount must be positive")
	}
	if req.Price.RateNumerator == nil || req.Price.RateDenominator == nil || req.Price.RateDenominator.Sign() == 0 {
		return Response{}, apperr.New(apperr.InvalidInput, "price snapshot is missing a rate")
	}

	rate := new(big.Rat).SetFrac(req.Price.RateNumerator, req.Price.RateDenominator)

	grossDest := new(big.Rat).Mul(rate, new(big.Rat).SetInt(req.SourceAmount))

	protocolFee := bpsOf(grossDest, req.Fees.ProtocolBps)
	networkFee := bpsOf(grossDest, req.Fees.NetworkBps)
	totalFee := new(big.Rat).Add(protocolFee, networkFee)

	netDest := new(big.Rat).Sub(grossDest, totalFee)
	if netDest.Sign() < 0 {
		netDest.SetInt64(0)
	}

	destAmount := floorToDecimals(netDest, req.DecimalsDest)

	premium := new(big.Rat).Add(big.NewRat(1, 1), bpsRat(req.PremiumBps))
	startPrice := new(big.Rat).Mul(rate, premium)

	discount := new(big.Rat).Sub(big.NewRat(1, 1), bpsRat(req.SlippageBps))
	endPrice := new(big.Rat).Mul(rate, discount)

	return Response{
		DestinationAmount: destAmount,
		Rate:              rate,
		DutchAuction: DutchAuction{
			StartPrice: startPrice,
			EndPrice:   endPrice,
			Duration:   durationFor(req.Urgency),
		},
		Fees: FeeBreakdown{
			Protocol: floorToDecimals(protocolFee, req.DecimalsDest),
			Network:  floorToDecimals(networkFee, req.DecimalsDest),
			Total:    floorToDecimals(totalFee, req.DecimalsDest),
		},
		ValidUntil: now.Add(30 * time.Second),
	}, nil
}

func bpsRat(bps uint32) *big.Rat {
	return big.NewRat(int64(bps), bpsDenominator)
}

func bpsOf(amount *big.Rat, bps uint32) *big.Rat {
	return new(big.Rat).Mul(amount, bpsRat(bps))
}

// floorToDecimals truncates a rational amount to an integer number of
// base units (decimals assumed already baked into amount's scale — the
// destination amount arithmetic above operates directly in base units).
func floorToDecimals(amount *big.Rat, decimals uint8) *big.Int {
	_ = decimals
	num := new(big.Int).Set(amount.Num())
	den := amount.Denom()
	q := new(big.Int).Quo(num, den)
	return q
}
