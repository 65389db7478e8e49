package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/baseswap/orchestrator/internal/quote"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/internal/sessionmgr"
	"github.com/baseswap/orchestrator/pkg/helpers"
)

// sessionRequest mirrors the SessionRequest body in spec §6.1. Amounts
// are decimal strings of base-unit integers (e.g. "1000000" for 1 USDC
// at 6 decimals), not floating-point token amounts.
type sessionRequest struct {
	SourceChain         string `json:"source_chain"`
	DestinationChain    string `json:"destination_chain"`
	SourceToken         string `json:"source_token"`
	DestinationToken    string `json:"destination_token"`
	SourceAmount        string `json:"source_amount"`
	DestinationAmount   string `json:"destination_amount"`
	Maker               string `json:"maker"`
	Taker               string `json:"taker"`
	DestinationAddress  string `json:"destination_address"`
	SlippageToleranceBps uint32 `json:"slippage_tolerance_bps"`
	ExpiresInSeconds    int    `json:"expires_in_seconds"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if req.SourceChain == "" || req.DestinationChain == "" || req.SourceToken == "" ||
		req.DestinationToken == "" || req.Maker == "" || req.Taker == "" {
		writeErrorStatus(w, http.StatusBadRequest, "missing required session fields")
		return
	}

	srcAmount, ok := new(big.Int).SetString(req.SourceAmount, 10)
	if !ok {
		writeErrorStatus(w, http.StatusBadRequest, "source_amount is not a valid integer string")
		return
	}
	dstAmount, ok := new(big.Int).SetString(req.DestinationAmount, 10)
	if !ok {
		writeErrorStatus(w, http.StatusBadRequest, "destination_amount is not a valid integer string")
		return
	}

	var ttl time.Duration
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}

	sess, err := s.deps.Sessions.CreateSession(r.Context(), sessionmgr.CreateRequest{
		ID:                 uuid.NewString(),
		SourceChain:        req.SourceChain,
		DestinationChain:   req.DestinationChain,
		SourceToken:        req.SourceToken,
		DestinationToken:   req.DestinationToken,
		SourceAmount:       srcAmount,
		DestinationAmount:  dstAmount,
		Maker:              req.Maker,
		Taker:              req.Taker,
		DestinationAddress: req.DestinationAddress,
		SlippageBps:        req.SlippageToleranceBps,
		Urgency:            "normal",
		ExpiresIn:          ttl,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, summaryOf(sess))
}

func summaryOf(sess *session.Session) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sess.ID,
		"hashlock":   session.HashlockHex(sess.Hashlock),
		"status":     string(sess.Status),
		"expires_at": sess.ExpiresAt,
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectionOf(sess))
}

func projectionOf(sess *session.Session) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sess.ID,
		"hashlock":   session.HashlockHex(sess.Hashlock),
		"status":     string(sess.Status),
		"reason":     string(sess.Reason),
		"progress":   progressPercent(sess.Status),
		"steps":      sess.ExecutionTrace,
		"locks": map[string]interface{}{
			"src": lockProjection(sess.Source.Lock),
			"dst": lockProjection(sess.Destination.Lock),
		},
		"created_at": sess.CreatedAt,
		"expires_at": sess.ExpiresAt,
	}
}

func lockProjection(l *session.Lock) interface{} {
	if l == nil {
		return nil
	}
	return map[string]interface{}{
		"chain_ref":    l.ChainRef,
		"contract_ref": l.ContractRef,
		"amount":       l.Amount.String(),
		"timeout":      l.Timeout,
		"observed_at":  l.ObservedAt,
	}
}

// progressPercent gives a coarse progress estimate for display purposes;
// it is never used by the state machine itself. It rises along the
// success path; TimedOut and Refunding report 50, which is lower than
// BothLocked or RevealingSecret.
func progressPercent(status session.Status) int {
	switch status {
	case session.StatusCreated:
		return 0
	case session.StatusSourceLocking:
		return 10
	case session.StatusSourceLocked:
		return 30
	case session.StatusDestinationLocking:
		return 45
	case session.StatusBothLocked:
		return 60
	case session.StatusRevealingSecret:
		return 80
	case session.StatusCompleted:
		return 100
	case session.StatusTimedOut, session.StatusRefunding:
		return 50
	case session.StatusRefunded, session.StatusFailed, session.StatusCancelled:
		return 100
	default:
		return 0
	}
}

type executeRequest struct {
	ConfirmationLevel string `json:"confirmation_level"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req executeRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional

	if err := s.deps.Sessions.RequestExecute(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		writeErrorStatus(w, http.StatusBadRequest, "principal query parameter is required")
		return
	}

	secret, err := s.deps.Sessions.ReleaseSecret(id, principal)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": helpers.BytesToHex(secret[:])[2:]})
}

func (s *Server) handleCheckTimeout(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.deps.Sessions.CheckTimeout(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleExecutionSteps(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": sess.ExecutionTrace})
}

type quoteRequest struct {
	SourceToken       string `json:"source_token"`
	DestinationToken  string `json:"destination_token"`
	SourceAmount      string `json:"source_amount"`
	Urgency           string `json:"urgency"`
	RateNumerator     string `json:"rate_numerator"`
	RateDenominator   string `json:"rate_denominator"`
	ProtocolFeeBps    uint32 `json:"protocol_fee_bps"`
	NetworkFeeBps     uint32 `json:"network_fee_bps"`
	PremiumBps        uint32 `json:"premium_bps"`
	SlippageBps       uint32 `json:"slippage_bps"`
	DestinationDecimals uint8 `json:"destination_decimals"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	srcAmount, ok := new(big.Int).SetString(req.SourceAmount, 10)
	if !ok {
		writeErrorStatus(w, http.StatusBadRequest, "source_amount is not a valid integer string")
		return
	}
	rateNum, ok1 := new(big.Int).SetString(req.RateNumerator, 10)
	rateDen, ok2 := new(big.Int).SetString(req.RateDenominator, 10)
	if !ok1 || !ok2 {
		writeErrorStatus(w, http.StatusBadRequest, "rate_numerator/rate_denominator must be valid integers")
		return
	}

	resp, err := s.deps.Quotes.Quote(quote.Request{
		SourceToken:      req.SourceToken,
		DestinationToken: req.DestinationToken,
		SourceAmount:     srcAmount,
		Urgency:          quote.Urgency(req.Urgency),
		Price:            quote.PriceSnapshot{RateNumerator: rateNum, RateDenominator: rateDen},
		Fees:             quote.Fees{ProtocolBps: req.ProtocolFeeBps, NetworkBps: req.NetworkFeeBps},
		PremiumBps:       req.PremiumBps,
		SlippageBps:      req.SlippageBps,
		DecimalsDest:     req.DestinationDecimals,
	}, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponseBody(resp))
}

func quoteResponseBody(resp quote.Response) map[string]interface{} {
	return map[string]interface{}{
		"dst_amount": resp.DestinationAmount.String(),
		"rate":       resp.Rate.FloatString(8),
		"dutch_auction": map[string]interface{}{
			"start_price": resp.DutchAuction.StartPrice.FloatString(8),
			"end_price":   resp.DutchAuction.EndPrice.FloatString(8),
			"duration_seconds": int(resp.DutchAuction.Duration.Seconds()),
		},
		"fees": map[string]interface{}{
			"protocol": resp.Fees.Protocol.String(),
			"network":  resp.Fees.Network.String(),
			"total":    resp.Fees.Total.String(),
		},
		"valid_until": resp.ValidUntil,
	}
}
