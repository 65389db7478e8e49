// Package chainclient defines the ChainClient interface the rest of the
// core consumes, plus its two implementations: an EVM-style source chain
// client (go-ethereum) and a non-EVM destination chain client (NEAR,
// decoded from JSON-RPC). Both hide reorg handling, confirmation
// thresholds, and RPC backoff behind the same surface (spec §4.2).
package chainclient

import (
	"context"
	"math/big"
	"time"
)

// EventKind tags the semantic meaning of a DecodedEvent.
type EventKind string

const (
	EventEscrowCreated  EventKind = "EscrowCreated"
	EventWithdrawn      EventKind = "Withdrawn"
	EventCancelled      EventKind = "Cancelled"
	EventHTLCCreated    EventKind = "HTLCCreated"
	EventHTLCWithdrawn  EventKind = "HTLCWithdrawn"
	EventHTLCRefunded   EventKind = "HTLCRefunded"
)

// ConfirmationLevel is used for fee/timing estimation, not for the
// confirmation threshold gating event emission (that is fixed per chain,
// spec §4.2).
type ConfirmationLevel string

const (
	LevelFast   ConfirmationLevel = "fast"
	LevelNormal ConfirmationLevel = "normal"
	LevelSlow   ConfirmationLevel = "slow"
)

// DecodedEvent is the tagged-variant event both ChainClient
// implementations emit, replacing the dynamic/duck-typed event objects a
// callback-based source would use (spec §9).
type DecodedEvent struct {
	Kind        EventKind
	Hashlock    [32]byte
	ContractRef string
	TxRef       string
	LogIndex    uint32
	BlockNumber uint64
	Amount      *big.Int
	Secret      [32]byte // populated only for *Withdrawn kinds
	Timelock    time.Time

	// Extras carries chain-specific fields (e.g. token address, NEAR
	// receiver account) that the session state machine does not need to
	// interpret directly.
	Extras map[string]string
}

// ClientUnavailableError is surfaced to EventMonitor when a ChainClient has
// exhausted its retry budget against the underlying RPC endpoint (spec
// §4.2: "never drop events silently").
type ClientUnavailableError struct {
	Chain string
	Cause error
}

func (e *ClientUnavailableError) Error() string {
	return "chain client unavailable for " + e.Chain + ": " + e.Cause.Error()
}

func (e *ClientUnavailableError) Unwrap() error { return e.Cause }

// ChainClient is the thin adapter the rest of the core depends on. Two
// implementations exist: SourceChainClient (EVM) and
// DestinationChainClient (NEAR).
type ChainClient interface {
	// HeadBlock returns the current chain head.
	HeadBlock(ctx context.Context) (uint64, error)

	// WatchEvents streams DecodedEvents from fromBlock onward on a
	// background goroutine, sending ClientUnavailableError on the error
	// channel (not dropping events) when the underlying RPC is down.
	// Both channels are closed when ctx is cancelled.
	WatchEvents(ctx context.Context, fromBlock uint64) (<-chan DecodedEvent, <-chan error)

	// EstimateConfirmationTime estimates how long a transaction at the
	// given urgency level takes to reach the client's required
	// confirmation depth.
	EstimateConfirmationTime(ctx context.Context, level ConfirmationLevel) (time.Duration, error)

	// SubmitReadonlyCall performs a read-only contract/method call, used
	// only for quote/price reads, never for writes (spec §4.2).
	SubmitReadonlyCall(ctx context.Context, target, method string, args ...interface{}) ([]byte, error)

	// LastProcessedBlock returns the persisted cursor.
	LastProcessedBlock() uint64

	// Available reports whether the last RPC call succeeded recently
	// enough to consider the dependency healthy (backs GET /health).
	Available() bool

	// Close releases underlying connections.
	Close()
}
