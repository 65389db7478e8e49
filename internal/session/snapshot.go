package session

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshot is the JSON-serializable projection of a Session written to
// state/sessions/<id>.json per spec §6.3.
type snapshot struct {
	ID                 string            `json:"session_id"`
	Hashlock           string            `json:"hashlock"`
	Status             Status            `json:"status"`
	Reason             FailureReason     `json:"reason,omitempty"`
	Source             legSnapshot       `json:"source"`
	Destination        legSnapshot       `json:"destination"`
	Maker              string            `json:"maker"`
	Taker              string            `json:"taker"`
	DestinationAddress string            `json:"destination_address,omitempty"`
	SlippageBps        uint32            `json:"slippage_bps"`
	Urgency            string            `json:"urgency"`
	CreatedAt          time.Time         `json:"created_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	Timelocks          timelockSnapshot  `json:"timelocks"`
	ExecutionTrace     []ExecutionStep   `json:"execution_trace"`
}

type legSnapshot struct {
	ChainID string      `json:"chain_id"`
	Token   string      `json:"token"`
	Amount  string      `json:"amount"` // decimal string, arbitrary precision
	Lock    *lockSnapshot `json:"lock,omitempty"`
}

type lockSnapshot struct {
	ChainRef    string    `json:"chain_ref"`
	ContractRef string    `json:"contract_ref"`
	Amount      string    `json:"amount"`
	Timeout     time.Time `json:"timeout"`
	ObservedAt  time.Time `json:"observed_at"`
}

type timelockSnapshot struct {
	DstWithdrawal       time.Time `json:"dst_withdrawal"`
	DstCancellation     time.Time `json:"dst_cancellation"`
	SrcWithdrawal       time.Time `json:"src_withdrawal"`
	SrcPublicWithdrawal time.Time `json:"src_public_withdrawal"`
	SrcCancellation     time.Time `json:"src_cancellation"`
}

func toSnapshot(s *Session) *snapshot {
	snap := &snapshot{
		ID:                 s.ID,
		Hashlock:           hex.EncodeToString(s.Hashlock[:]),
		Status:             s.Status,
		Reason:             s.Reason,
		Maker:              s.Maker,
		Taker:              s.Taker,
		DestinationAddress: s.DestinationAddress,
		SlippageBps:        s.SlippageBps,
		Urgency:            s.Urgency,
		CreatedAt:           s.CreatedAt,
		ExpiresAt:           s.ExpiresAt,
		Timelocks: timelockSnapshot{
			DstWithdrawal:       s.Timelocks.DstWithdrawal,
			DstCancellation:     s.Timelocks.DstCancellation,
			SrcWithdrawal:       s.Timelocks.SrcWithdrawal,
			SrcPublicWithdrawal: s.Timelocks.SrcPublicWithdrawal,
			SrcCancellation:     s.Timelocks.SrcCancellation,
		},
		ExecutionTrace: s.ExecutionTrace,
	}
	snap.Source = legToSnapshot(s.Source)
	snap.Destination = legToSnapshot(s.Destination)
	return snap
}

func legToSnapshot(l Leg) legSnapshot {
	out := legSnapshot{ChainID: l.ChainID, Token: l.Token}
	if l.Amount != nil {
		out.Amount = l.Amount.String()
	} else {
		out.Amount = "0"
	}
	if l.Lock != nil {
		amt := "0"
		if l.Lock.Amount != nil {
			amt = l.Lock.Amount.String()
		}
		out.Lock = &lockSnapshot{
			ChainRef:    l.Lock.ChainRef,
			ContractRef: l.Lock.ContractRef,
			Amount:      amt,
			Timeout:     l.Lock.Timeout,
			ObservedAt:  l.Lock.ObservedAt,
		}
	}
	return out
}

// SnapshotDir returns the directory snapshots are written to under
// stateDir, creating it if necessary.
func SnapshotDir(stateDir string) (string, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating sessions directory: %w", err)
	}
	return dir, nil
}

// WriteSnapshot writes a session's last-known state to
// state/sessions/<id>.json, atomically via a temp-file rename so a crash
// mid-write never leaves a corrupt snapshot (spec §6.3: written on every
// terminal transition and every 5s during activity).
func WriteSnapshot(stateDir string, s *Session) error {
	dir, err := SnapshotDir(stateDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(toSnapshot(s), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session snapshot: %w", err)
	}

	final := filepath.Join(dir, s.ID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming session snapshot: %w", err)
	}
	return nil
}
