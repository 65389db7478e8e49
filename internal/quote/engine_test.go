package quote

import (
	"math/big"
	"testing"
	"time"
)

func testRequest() Request {
	return Request{
		SourceToken:      "USDC",
		DestinationToken: "USDC.e",
		SourceAmount:     big.NewInt(1_000_000),
		Urgency:          UrgencyNormal,
		Price:            PriceSnapshot{RateNumerator: big.NewInt(99), RateDenominator: big.NewInt(100)},
		Fees:             Fees{ProtocolBps: 10, NetworkBps: 5},
		PremiumBps:       50,
		SlippageBps:      100,
		DecimalsDest:     6,
	}
}

func TestQuoteBoundsPriceBetweenEndAndStart(t *testing.T) {
	e := New()
	resp, err := e.Quote(testRequest(), time.Unix(1780000000, 0))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if resp.DutchAuction.EndPrice.Cmp(resp.Rate) > 0 {
		t.Fatalf("end_price %v > rate %v", resp.DutchAuction.EndPrice, resp.Rate)
	}
	if resp.Rate.Cmp(resp.DutchAuction.StartPrice) > 0 {
		t.Fatalf("rate %v > start_price %v", resp.Rate, resp.DutchAuction.StartPrice)
	}
}

func TestQuoteDurationByUrgency(t *testing.T) {
	e := New()
	cases := map[Urgency]time.Duration{
		UrgencyFast:   180 * time.Second,
		UrgencyNormal: 300 * time.Second,
		UrgencySlow:   600 * time.Second,
	}
	for urgency, want := range cases {
		req := testRequest()
		req.Urgency = urgency
		resp, err := e.Quote(req, time.Now())
		if err != nil {
			t.Fatalf("Quote(%s): %v", urgency, err)
		}
		if resp.DutchAuction.Duration != want {
			t.Fatalf("duration for %s = %v, want %v", urgency, resp.DutchAuction.Duration, want)
		}
	}
}

func TestQuoteValidUntilIsThirtySecondsOut(t *testing.T) {
	e := New()
	now := time.Unix(1780000000, 0)
	resp, err := e.Quote(testRequest(), now)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !resp.ValidUntil.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("valid_until = %v, want %v", resp.ValidUntil, now.Add(30*time.Second))
	}
}

func TestQuoteRejectsNonPositiveAmount(t *testing.T) {
	e := New()
	req := testRequest()
	req.SourceAmount = big.NewInt(0)
	if _, err := e.Quote(req, time.Now()); err == nil {
		t.Fatal("expected error for zero source_amount")
	}
}

func TestQuoteDestinationAmountAtLeastWorstCase(t *testing.T) {
	e := New()
	req := testRequest()
	resp, err := e.Quote(req, time.Now())
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	// dst_amount must be at least source_amount * end_price * (1 - total
	// fee fraction), floored — the worst case a taker should ever see.
	totalFeeFraction := new(big.Rat).Quo(new(big.Rat).SetInt(resp.Fees.Total), new(big.Rat).Mul(resp.Rate, new(big.Rat).SetInt(req.SourceAmount)))
	worstCase := new(big.Rat).Mul(new(big.Rat).SetInt(req.SourceAmount), resp.DutchAuction.EndPrice)
	worstCase.Mul(worstCase, new(big.Rat).Sub(big.NewRat(1, 1), totalFeeFraction))

	worstCaseFloor := new(big.Int).Quo(worstCase.Num(), worstCase.Denom())
	if resp.DestinationAmount.Cmp(worstCaseFloor) < 0 {
		t.Fatalf("dst_amount %v below worst-case bound %v", resp.DestinationAmount, worstCaseFloor)
	}
}
