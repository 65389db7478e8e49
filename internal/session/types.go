// Package session defines the Session data model and an in-process,
// indexed store for it.
package session

import (
	"math/big"
	"time"
)

// Status is one of the states a Session may occupy. Transitions between
// them are enforced by the session manager's state machine, not by this
// package.
type Status string

const (
	StatusCreated            Status = "Created"
	StatusSourceLocking      Status = "SourceLocking"
	StatusSourceLocked       Status = "SourceLocked"
	StatusDestinationLocking Status = "DestinationLocking"
	StatusBothLocked         Status = "BothLocked"
	StatusRevealingSecret    Status = "RevealingSecret"
	StatusCompleted          Status = "Completed"
	StatusTimedOut           Status = "TimedOut"
	StatusRefunding          Status = "Refunding"
	StatusRefunded           Status = "Refunded"
	StatusFailed             Status = "Failed"
	StatusCancelled          Status = "Cancelled"
)

// Terminal reports whether a status is absorbing (P3).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Leg describes one side (source or destination) of a swap.
type Leg struct {
	ChainID string
	Token   string
	Amount  *big.Int
	Lock    *Lock
}

// Lock records the on-chain artifact backing one leg once observed.
type Lock struct {
	ChainRef    string // transaction hash
	ContractRef string // escrow address or HTLC id
	Amount      *big.Int
	Timeout     time.Time
	ObservedAt  time.Time
}

// Timelocks holds the absolute UTC deadlines derived for a session,
// satisfying the ordering invariant in spec §3 invariant 2.
type Timelocks struct {
	DstWithdrawal       time.Time
	DstCancellation     time.Time
	SrcWithdrawal       time.Time
	SrcPublicWithdrawal time.Time
	SrcCancellation     time.Time
}

// Ordered reports whether the timelocks satisfy the required strict
// ordering (P2).
func (t Timelocks) Ordered() bool {
	return t.DstWithdrawal.Before(t.DstCancellation) &&
		t.DstCancellation.Before(t.SrcWithdrawal) &&
		t.SrcWithdrawal.Before(t.SrcPublicWithdrawal) &&
		t.SrcPublicWithdrawal.Before(t.SrcCancellation)
}

// StepStatus is the status of an ExecutionStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ExecutionStep is one append-only, purely-observed entry in a session's
// execution trace (spec §3, §9 open question: never simulated).
type ExecutionStep struct {
	ID        string
	Contract  string
	Function  string
	Params    map[string]string
	Status    StepStatus
	TxRef     string
	GasUsed   uint64
	Error     string
	Timestamp time.Time
}

// FailureReason names why a session reached Failed.
type FailureReason string

const (
	FailureInvalidLock         FailureReason = "InvalidLock"
	FailureUnexpectedCancel    FailureReason = "UnexpectedCancel"
	FailureInvariantViolation  FailureReason = "InvariantViolation"
)

// Session is the central entity: one per swap attempt.
type Session struct {
	ID       string
	Hashlock [32]byte
	Status   Status
	Reason   FailureReason // populated only when Status == Failed

	Source      Leg
	Destination Leg

	Maker              string // chain-specific address
	Taker              string // source-chain address; authorized for secret release
	DestinationAddress string // destination-chain receiver (NEAR account), when taker is not a destination-chain address

	SlippageBps uint32
	Urgency     string

	CreatedAt time.Time
	ExpiresAt time.Time

	Timelocks Timelocks

	ExecutionTrace []ExecutionStep
}

// Clone returns a deep-enough copy of the session safe for a reader to hold
// without further locking (used by SessionStore for lock-free reads).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Source.Amount = cloneBigInt(s.Source.Amount)
	cp.Destination.Amount = cloneBigInt(s.Destination.Amount)
	cp.Source.Lock = cloneLock(s.Source.Lock)
	cp.Destination.Lock = cloneLock(s.Destination.Lock)
	cp.ExecutionTrace = append([]ExecutionStep(nil), s.ExecutionTrace...)
	return &cp
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneLock(l *Lock) *Lock {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Amount = cloneBigInt(l.Amount)
	return &cp
}

// Subscription represents a client's interest in a channel.
type Subscription struct {
	ClientID  string
	Channel   string // "session" or "event"
	SessionID string
	OpenedAt  time.Time
}
