package session

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// ReadAllSnapshots loads every persisted session under stateDir/sessions
// for startup reconciliation (spec §6.3: "replays cursors and reconciles
// active sessions against chain state before accepting traffic").
func ReadAllSnapshots(stateDir string) ([]*Session, error) {
	dir := filepath.Join(stateDir, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	var out []*Session
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading snapshot %s: %w", e.Name(), err)
		}
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parsing snapshot %s: %w", e.Name(), err)
		}
		sess, err := fromSnapshot(&snap)
		if err != nil {
			return nil, fmt.Errorf("restoring snapshot %s: %w", e.Name(), err)
		}
		out = append(out, sess)
	}
	return out, nil
}

func fromSnapshot(snap *snapshot) (*Session, error) {
	hashBytes, err := hex.DecodeString(snap.Hashlock)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("invalid hashlock %q", snap.Hashlock)
	}
	var hashlock [32]byte
	copy(hashlock[:], hashBytes)

	src, err := legFromSnapshot(snap.Source)
	if err != nil {
		return nil, fmt.Errorf("source leg: %w", err)
	}
	dst, err := legFromSnapshot(snap.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination leg: %w", err)
	}

	return &Session{
		ID:                 snap.ID,
		Hashlock:           hashlock,
		Status:             snap.Status,
		Reason:             snap.Reason,
		Source:             src,
		Destination:        dst,
		Maker:              snap.Maker,
		Taker:              snap.Taker,
		DestinationAddress: snap.DestinationAddress,
		SlippageBps:        snap.SlippageBps,
		Urgency:            snap.Urgency,
		CreatedAt:          snap.CreatedAt,
		ExpiresAt:          snap.ExpiresAt,
		Timelocks: Timelocks{
			DstWithdrawal:       snap.Timelocks.DstWithdrawal,
			DstCancellation:     snap.Timelocks.DstCancellation,
			SrcWithdrawal:       snap.Timelocks.SrcWithdrawal,
			SrcPublicWithdrawal: snap.Timelocks.SrcPublicWithdrawal,
			SrcCancellation:     snap.Timelocks.SrcCancellation,
		},
		ExecutionTrace: snap.ExecutionTrace,
	}, nil
}

func legFromSnapshot(snap legSnapshot) (Leg, error) {
	amount, ok := new(big.Int).SetString(snap.Amount, 10)
	if !ok {
		return Leg{}, fmt.Errorf("invalid amount %q", snap.Amount)
	}
	leg := Leg{ChainID: snap.ChainID, Token: snap.Token, Amount: amount}
	if snap.Lock != nil {
		lockAmount, ok := new(big.Int).SetString(snap.Lock.Amount, 10)
		if !ok {
			return Leg{}, fmt.Errorf("invalid lock amount %q", snap.Lock.Amount)
		}
		leg.Lock = &Lock{
			ChainRef:    snap.Lock.ChainRef,
			ContractRef: snap.Lock.ContractRef,
			Amount:      lockAmount,
			Timeout:     snap.Lock.Timeout,
			ObservedAt:  snap.Lock.ObservedAt,
		}
	}
	return leg, nil
}
