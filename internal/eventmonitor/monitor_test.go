package eventmonitor

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/baseswap/orchestrator/internal/chainclient"
	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/internal/session"
)

// fakeChainClient is a test double satisfying chainclient.ChainClient,
// replaying a fixed slice of events then blocking until ctx is done.
type fakeChainClient struct {
	events []chainclient.DecodedEvent
}

func (f *fakeChainClient) HeadBlock(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeChainClient) WatchEvents(ctx context.Context, fromBlock uint64) (<-chan chainclient.DecodedEvent, <-chan error) {
	events := make(chan chainclient.DecodedEvent, len(f.events))
	errs := make(chan error)
	for _, ev := range f.events {
		events <- ev
	}
	go func() {
		<-ctx.Done()
		close(events)
		close(errs)
	}()
	return events, errs
}

func (f *fakeChainClient) EstimateConfirmationTime(ctx context.Context, level chainclient.ConfirmationLevel) (time.Duration, error) {
	return time.Second, nil
}
func (f *fakeChainClient) SubmitReadonlyCall(ctx context.Context, target, method string, args ...interface{}) ([]byte, error) {
	return nil, nil
}
func (f *fakeChainClient) LastProcessedBlock() uint64 { return 0 }
func (f *fakeChainClient) Available() bool            { return true }
func (f *fakeChainClient) Close()                     {}

func newTestSessionWithHashlock(t *testing.T, store *session.Store, hashlock [32]byte) *session.Session {
	t.Helper()
	sess := &session.Session{
		ID:       "sess-1",
		Hashlock: hashlock,
		Status:   session.StatusSourceLocking,
		Source:   session.Leg{ChainID: "base", Token: "USDC", Amount: big.NewInt(1000)},
		Maker:    "0xmaker",
		Taker:    "0xtaker",
		CreatedAt: time.Unix(1780000000, 0),
		ExpiresAt: time.Unix(1780003600, 0),
	}
	if err := store.Create(sess); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}

func TestMonitorCorrelatesMatchingEvent(t *testing.T) {
	dir, err := os.MkdirTemp("", "monitor-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store := session.NewStore()
	var hashlock [32]byte
	hashlock[0] = 0xAB
	newTestSessionWithHashlock(t, store, hashlock)

	src := &fakeChainClient{events: []chainclient.DecodedEvent{
		{Kind: chainclient.EventEscrowCreated, Hashlock: hashlock, TxRef: "0x1", LogIndex: 0, Amount: big.NewInt(1000)},
	}}
	dst := &fakeChainClient{}

	bus := eventbus.New()
	mon, err := New(src, dst, store, bus, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go mon.Run(ctx)

	select {
	case got := <-mon.Events():
		if got.SessionID != "sess-1" {
			t.Fatalf("SessionID = %q, want sess-1", got.SessionID)
		}
		if got.Chain != "source" {
			t.Fatalf("Chain = %q, want source", got.Chain)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for correlated event")
	}
}

func TestMonitorDropsUnmatchedEventSilentlyFromOutput(t *testing.T) {
	dir, err := os.MkdirTemp("", "monitor-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store := session.NewStore() // no sessions registered

	var unmatched [32]byte
	unmatched[0] = 0xFF
	src := &fakeChainClient{events: []chainclient.DecodedEvent{
		{Kind: chainclient.EventEscrowCreated, Hashlock: unmatched, TxRef: "0x1", LogIndex: 0},
	}}
	dst := &fakeChainClient{}

	bus := eventbus.New()
	mon, err := New(src, dst, store, bus, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	go mon.Run(ctx)

	select {
	case ev, ok := <-mon.Events():
		if ok {
			t.Fatalf("expected no correlated event, got %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
		// No event and channel still open is also acceptable: the point
		// is the unmatched event was never forwarded.
	}
}

func TestMonitorDeduplicatesRepeatedEvent(t *testing.T) {
	dir, err := os.MkdirTemp("", "monitor-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store := session.NewStore()
	var hashlock [32]byte
	hashlock[0] = 0xCD
	newTestSessionWithHashlock(t, store, hashlock)

	dup := chainclient.DecodedEvent{Kind: chainclient.EventEscrowCreated, Hashlock: hashlock, TxRef: "0x2", LogIndex: 1}
	src := &fakeChainClient{events: []chainclient.DecodedEvent{dup, dup}}
	dst := &fakeChainClient{}

	bus := eventbus.New()
	mon, err := New(src, dst, store, bus, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go mon.Run(ctx)

	count := 0
loop:
	for {
		select {
		case _, ok := <-mon.Events():
			if !ok {
				break loop
			}
			count++
		case <-time.After(300 * time.Millisecond):
			break loop
		}
	}

	if count != 1 {
		t.Fatalf("received %d correlated events for a duplicated on-chain event, want 1", count)
	}
}
