// Package eventmonitor tails both ChainClients, correlates decoded
// on-chain events to sessions by hashlock, deduplicates by
// (chain, tx_ref, log_index), and hands ordered, confirmed events to
// SessionManager while fanning a copy out over the EventBus for
// WebSocket subscribers and the audit log (spec §4.3).
package eventmonitor

import (
	"context"
	"fmt"

	"github.com/baseswap/orchestrator/internal/chainclient"
	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/pkg/logging"
)

// CorrelatedEvent pairs a DecodedEvent with the session it belongs to.
// SessionManager is the sole consumer of the Events() channel; it
// processes these strictly in the order they are correlated, per chain.
type CorrelatedEvent struct {
	SessionID string
	Chain     string // "source" or "destination"
	Event     chainclient.DecodedEvent
}

// Monitor is the bridge between raw ChainClient event streams and the
// session state machine.
type Monitor struct {
	src   chainclient.ChainClient
	dst   chainclient.ChainClient
	store *session.Store
	bus   *eventbus.Bus
	dedup *dedupSet
	out   chan CorrelatedEvent
	log   *logging.Logger
}

// New builds a Monitor backed by a dedup log under stateDir.
func New(src, dst chainclient.ChainClient, store *session.Store, bus *eventbus.Bus, stateDir string) (*Monitor, error) {
	dedup, err := newDedupSet(stateDir)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		src:   src,
		dst:   dst,
		store: store,
		bus:   bus,
		dedup: dedup,
		out:   make(chan CorrelatedEvent, 256),
		log:   logging.GetDefault().Component("eventmonitor"),
	}, nil
}

// Events returns the channel SessionManager should range over.
func (m *Monitor) Events() <-chan CorrelatedEvent { return m.out }

// Run starts tailing both chains from their persisted cursors until ctx
// is cancelled. It blocks; callers should run it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	srcEvents, srcErrs := m.src.WatchEvents(ctx, m.src.LastProcessedBlock())
	dstEvents, dstErrs := m.dst.WatchEvents(ctx, m.dst.LastProcessedBlock())

	defer close(m.out)
	defer m.dedup.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-srcEvents:
			if !ok {
				srcEvents = nil
				continue
			}
			m.handle(ctx, "source", ev)

		case ev, ok := <-dstEvents:
			if !ok {
				dstEvents = nil
				continue
			}
			m.handle(ctx, "destination", ev)

		case err, ok := <-srcErrs:
			if !ok {
				srcErrs = nil
				continue
			}
			m.log.Error("source chain client error", "error", err)
			m.bus.Publish(eventbus.GlobalTopic, "chain_unavailable", map[string]interface{}{"chain": "source", "error": err.Error()})

		case err, ok := <-dstErrs:
			if !ok {
				dstErrs = nil
				continue
			}
			m.log.Error("destination chain client error", "error", err)
			m.bus.Publish(eventbus.GlobalTopic, "chain_unavailable", map[string]interface{}{"chain": "destination", "error": err.Error()})
		}
	}
}

func (m *Monitor) handle(ctx context.Context, chain string, ev chainclient.DecodedEvent) {
	key := dedupKey{chain: chain, txRef: ev.TxRef, logIndex: ev.LogIndex}
	seen, err := m.dedup.SeenOrRemember(key)
	if err != nil {
		m.log.Error("dedup persistence failed", "error", err)
		return
	}
	if seen {
		return
	}

	sess, err := m.store.GetByHashlock(ev.Hashlock)
	if err != nil {
		// No session claims this hashlock. Per spec §4.3 / P7, this is
		// logged, never silently dropped, and never forwarded.
		m.log.Warn("chain event has no matching session",
			"chain", chain, "kind", ev.Kind, "hashlock", session.HashlockHex(ev.Hashlock), "tx_ref", ev.TxRef)
		return
	}

	correlated := CorrelatedEvent{SessionID: sess.ID, Chain: chain, Event: ev}

	select {
	case m.out <- correlated:
	case <-ctx.Done():
		return
	}

	payload := blockchainEventPayload(sess.ID, chain, ev)
	m.bus.Publish(eventbus.SessionTopic(sess.ID), "blockchain_event", payload)
	m.bus.Publish(eventbus.GlobalTopic, "blockchain_event", payload)
}

func blockchainEventPayload(sessionID, chain string, ev chainclient.DecodedEvent) map[string]interface{} {
	payload := map[string]interface{}{
		"session_id":   sessionID,
		"chain":        chain,
		"kind":         string(ev.Kind),
		"tx_ref":       ev.TxRef,
		"log_index":    ev.LogIndex,
		"block_number": ev.BlockNumber,
		"hashlock":     fmt.Sprintf("%x", ev.Hashlock),
	}
	if ev.Amount != nil {
		payload["amount"] = ev.Amount.String()
	}
	return payload
}
