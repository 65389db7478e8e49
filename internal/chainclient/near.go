package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/baseswap/orchestrator/pkg/helpers"
	"github.com/baseswap/orchestrator/pkg/logging"
)

// jsonrpcRequest/jsonrpcResponse mirror the envelope the teacher's
// backend.JSONRPCBackend uses for its HTTP-transport RPC dispatch.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpcError   `json:"error"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// nearBlockResult/nearChunkResult/nearTxStatusResult model the subset of
// the NEAR RPC "block"/"chunk"/"tx" responses this client cares about:
// receipt execution outcomes carrying HTLC contract log lines, one JSON
// string per emitted event (spec §4.2, destination is non-EVM).
type nearBlockResult struct {
	Header struct {
		Height uint64 `json:"height"`
	} `json:"header"`
	Chunks []struct {
		ChunkHash string `json:"chunk_hash"`
	} `json:"chunks"`
}

type nearChunkResult struct {
	Transactions []struct {
		Hash string `json:"hash"`
	} `json:"transactions"`
}

type nearTxStatusResult struct {
	ReceiptsOutcome []struct {
		Outcome struct {
			Logs      []string `json:"logs"`
			ExecutorID string  `json:"executor_id"`
		} `json:"outcome"`
	} `json:"receipts_outcome"`
}

// nearHTLCLog is the JSON structure the destination HTLC contract emits
// via NEAR's `env::log_str`, one line per event.
type nearHTLCLog struct {
	Event     string `json:"event"`
	Hashlock  string `json:"hashlock"`
	Amount    string `json:"amount"`
	Secret    string `json:"secret"`
	Receiver  string `json:"receiver"`
	Timelock  int64  `json:"timelock_unix"`
}

// DestinationChainClient adapts a non-EVM chain (NEAR) over its JSON-RPC
// HTTP transport, grounded on the teacher's JSONRPCBackend dispatch
// pattern (internal/backend/jsonrpc.go): a single requestID counter, a
// shared *http.Client, and a typed envelope per call.
type DestinationChainClient struct {
	rpcURL        string
	contractID    string
	confirmations uint64
	httpClient    *http.Client
	requestID     atomic.Uint64
	cursor        *Cursor
	backoff       *backoff
	pollInterval  time.Duration
	log           *logging.Logger

	lastSuccess time.Time
}

// NewDestinationChainClient dials rpcURL (a NEAR JSON-RPC endpoint) and
// watches receipts touching contractID for HTLC events.
func NewDestinationChainClient(rpcURL, contractID string, confirmations uint64, stateDir string) (*DestinationChainClient, error) {
	cursor, err := OpenCursor(stateDir, "dst")
	if err != nil {
		return nil, err
	}

	return &DestinationChainClient{
		rpcURL:        rpcURL,
		contractID:    contractID,
		confirmations: confirmations,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		cursor:        cursor,
		backoff:       newBackoff(),
		pollInterval:  2 * time.Second,
		log:           logging.GetDefault().Component("chain.dst"),
	}, nil
}

func (c *DestinationChainClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading rpc response: %w", err)
	}

	var envelope jsonrpcResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decoding rpc envelope: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding rpc result: %w", err)
		}
	}

	c.lastSuccess = time.Now()
	return nil
}

// HeadBlock returns the current NEAR final block height.
func (c *DestinationChainClient) HeadBlock(ctx context.Context) (uint64, error) {
	var result nearBlockResult
	err := c.call(ctx, "block", map[string]string{"finality": "final"}, &result)
	if err != nil {
		return 0, err
	}
	return result.Header.Height, nil
}

// WatchEvents polls NEAR blocks from fromBlock onward, inspecting each
// chunk's transactions' receipt outcomes for HTLC contract log lines.
func (c *DestinationChainClient) WatchEvents(ctx context.Context, fromBlock uint64) (<-chan DecodedEvent, <-chan error) {
	events := make(chan DecodedEvent, 64)
	errs := make(chan error, 4)

	if fromBlock < c.cursor.Value() {
		fromBlock = c.cursor.Value()
	}

	go func() {
		defer close(events)
		defer close(errs)

		next := fromBlock
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, err := c.HeadBlock(ctx)
			if err != nil {
				errs <- &ClientUnavailableError{Chain: "destination", Cause: err}
				continue
			}
			if head < c.confirmations {
				continue
			}
			safeHead := head - c.confirmations
			if next > safeHead {
				continue
			}

			for h := next; h <= safeHead; h++ {
				found, err := c.scanBlock(ctx, h)
				if err != nil {
					errs <- &ClientUnavailableError{Chain: "destination", Cause: err}
					break
				}
				for _, ev := range found {
					events <- ev
				}
				if err := c.cursor.Advance(h + 1); err != nil {
					c.log.Error("failed to persist destination cursor", "error", err)
				}
				next = h + 1
			}
		}
	}()

	return events, errs
}

func (c *DestinationChainClient) scanBlock(ctx context.Context, height uint64) ([]DecodedEvent, error) {
	var block nearBlockResult
	var found []DecodedEvent

	err := c.backoff.Run(ctx, func() error {
		return c.call(ctx, "block", map[string]interface{}{"block_id": height}, &block)
	})
	if err != nil {
		return nil, err
	}

	for _, chunk := range block.Chunks {
		var chunkResult nearChunkResult
		if err := c.call(ctx, "chunk", map[string]string{"chunk_id": chunk.ChunkHash}, &chunkResult); err != nil {
			return nil, err
		}

		for _, tx := range chunkResult.Transactions {
			var status nearTxStatusResult
			if err := c.call(ctx, "tx", []string{tx.Hash, c.contractID}, &status); err != nil {
				continue
			}

			for _, outcome := range status.ReceiptsOutcome {
				if outcome.Outcome.ExecutorID != c.contractID {
					continue
				}
				for _, line := range outcome.Outcome.Logs {
					ev, ok := decodeNEARLog(line, tx.Hash, height)
					if ok {
						found = append(found, ev)
					}
				}
			}
		}
	}

	return found, nil
}

func decodeNEARLog(line, txHash string, blockHeight uint64) (DecodedEvent, bool) {
	var entry nearHTLCLog
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return DecodedEvent{}, false
	}

	ev := DecodedEvent{
		TxRef:       txHash,
		BlockNumber: blockHeight,
		Extras:      map[string]string{"receiver": entry.Receiver},
	}

	switch entry.Event {
	case "htlc_created":
		ev.Kind = EventHTLCCreated
	case "htlc_withdrawn":
		ev.Kind = EventHTLCWithdrawn
	case "htlc_refunded":
		ev.Kind = EventHTLCRefunded
	default:
		return DecodedEvent{}, false
	}

	copy(ev.Hashlock[:], decodeHexPrefixed(entry.Hashlock))
	if entry.Secret != "" {
		copy(ev.Secret[:], decodeHexPrefixed(entry.Secret))
	}
	if entry.Amount != "" {
		if amt, ok := new(big.Int).SetString(entry.Amount, 10); ok {
			ev.Amount = amt
		}
	}
	if entry.Timelock != 0 {
		ev.Timelock = time.Unix(entry.Timelock, 0).UTC()
	}

	return ev, true
}

func decodeHexPrefixed(s string) []byte {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil
	}
	return b
}

// EstimateConfirmationTime returns a fixed estimate of NEAR finality time
// for the given urgency level; it makes no RPC call.
func (c *DestinationChainClient) EstimateConfirmationTime(ctx context.Context, level ConfirmationLevel) (time.Duration, error) {
	switch level {
	case LevelFast:
		return 2 * time.Second, nil
	case LevelSlow:
		return 10 * time.Second, nil
	default:
		return 4 * time.Second, nil
	}
}

// SubmitReadonlyCall performs a read-only NEAR view call, used only for
// quote/price reads (spec §4.2: never for writes).
func (c *DestinationChainClient) SubmitReadonlyCall(ctx context.Context, target, method string, args ...interface{}) ([]byte, error) {
	params := map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   target,
		"method_name":  method,
		"args_base64":  "",
	}

	var result struct {
		Result []byte `json:"result"`
	}
	if err := c.call(ctx, "query", params, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// LastProcessedBlock returns the persisted cursor value.
func (c *DestinationChainClient) LastProcessedBlock() uint64 { return c.cursor.Value() }

// Available reports whether a recent RPC call succeeded.
func (c *DestinationChainClient) Available() bool {
	return time.Since(c.lastSuccess) < 2*time.Minute
}

// Close is a no-op: the destination client holds no persistent
// connection beyond the shared *http.Client.
func (c *DestinationChainClient) Close() {}
