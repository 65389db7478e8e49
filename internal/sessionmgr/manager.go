// Package sessionmgr implements the session state machine (spec §4.4):
// one logical worker per session, serialized so that no two mutations of
// the same session ever interleave, driven by correlated chain events
// from EventMonitor and by per-session timeout timers.
package sessionmgr

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/baseswap/orchestrator/internal/apperr"
	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/internal/eventmonitor"
	"github.com/baseswap/orchestrator/internal/secretmgr"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/pkg/logging"
)

// CreateRequest carries the validated fields of a SessionRequest (spec
// §6.1); HTTP-level decoding and field presence checks happen in
// internal/api before this reaches Manager.
type CreateRequest struct {
	ID                 string
	SourceChain        string
	DestinationChain   string
	SourceToken        string
	DestinationToken   string
	SourceAmount       *big.Int
	DestinationAmount  *big.Int
	Maker              string
	Taker              string
	DestinationAddress string
	SlippageBps        uint32
	Urgency            string
	ExpiresIn          time.Duration
}

// worker owns a single session's mutation queue. All state changes for
// that session happen on its goroutine, in the order items are enqueued.
type worker struct {
	id     string
	inbox  chan workItem
	cancel context.CancelFunc
}

type workItem struct {
	correlated *eventmonitor.CorrelatedEvent
	timeout    bool
	execute    bool
}

// Manager owns the session worker pool.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*worker

	store    *session.Store
	secrets  *secretmgr.Manager
	bus      *eventbus.Bus
	stateDir string
	log      *logging.Logger

	defaultTTL time.Duration
}

// New builds a Manager. defaultTTL is used when a CreateRequest does not
// specify ExpiresIn.
func New(store *session.Store, secrets *secretmgr.Manager, bus *eventbus.Bus, stateDir string, defaultTTL time.Duration) *Manager {
	return &Manager{
		workers:    make(map[string]*worker),
		store:      store,
		secrets:    secrets,
		bus:        bus,
		stateDir:   stateDir,
		log:        logging.GetDefault().Component("sessionmgr"),
		defaultTTL: defaultTTL,
	}
}

// CreateSession mints a secret, computes timelocks, persists the new
// session, and spawns its worker and timeout timer.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	if req.SourceAmount == nil || req.SourceAmount.Sign() <= 0 {
		return nil, apperr.New(apperr.InvalidInput, "source_amount must be positive")
	}
	if req.DestinationAmount == nil || req.DestinationAmount.Sign() <= 0 {
		return nil, apperr.New(apperr.InvalidInput, "destination_amount must be positive")
	}

	ttl := req.ExpiresIn
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl < 10*time.Minute || ttl > 24*time.Hour {
		return nil, apperr.New(apperr.InvalidInput, "expires_in_seconds out of allowed range [10m, 24h]")
	}

	_, hashlock, err := m.secrets.NewSecret(req.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	timelocks := deriveTimelocks(now, ttl)
	if !timelocks.Ordered() {
		return nil, apperr.New(apperr.Internal, "derived timelocks fail ordering invariant")
	}

	sess := &session.Session{
		ID:                 req.ID,
		Hashlock:           hashlock,
		Status:             session.StatusCreated,
		Source:             session.Leg{ChainID: req.SourceChain, Token: req.SourceToken, Amount: req.SourceAmount},
		Destination:        session.Leg{ChainID: req.DestinationChain, Token: req.DestinationToken, Amount: req.DestinationAmount},
		Maker:              req.Maker,
		Taker:              req.Taker,
		DestinationAddress: req.DestinationAddress,
		SlippageBps:        req.SlippageBps,
		Urgency:            req.Urgency,
		CreatedAt:          now,
		ExpiresAt:          expiresAt,
		Timelocks:          timelocks,
	}

	if err := m.store.Create(sess); err != nil {
		return nil, err
	}
	if err := session.WriteSnapshot(m.stateDir, sess); err != nil {
		m.log.Error("failed to write initial session snapshot", "session_id", sess.ID, "error", err)
	}

	m.spawnWorker(sess.ID, expiresAt, timelocks.SrcCancellation)
	m.publishUpdate(sess)

	return sess, nil
}

// deriveTimelocks computes the five absolute deadlines for a session
// given its creation time and total TTL, spacing them so the ordering
// invariant (P2) always holds regardless of TTL length.
func deriveTimelocks(createdAt time.Time, ttl time.Duration) session.Timelocks {
	step := ttl / 5
	if step <= 0 {
		step = time.Minute
	}
	return session.Timelocks{
		DstWithdrawal:       createdAt.Add(step),
		DstCancellation:     createdAt.Add(2 * step),
		SrcWithdrawal:       createdAt.Add(3 * step),
		SrcPublicWithdrawal: createdAt.Add(4 * step),
		SrcCancellation:     createdAt.Add(ttl),
	}
}

func (m *Manager) spawnWorker(id string, expiresAt, srcCancellation time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{id: id, inbox: make(chan workItem, 128), cancel: cancel}

	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()

	go m.runWorker(ctx, w)
	go m.armTimeout(ctx, w, expiresAt, srcCancellation)
}

func (m *Manager) armTimeout(ctx context.Context, w *worker, expiresAt, srcCancellation time.Time) {
	deadline := expiresAt
	if srcCancellation.Before(deadline) {
		deadline = srcCancellation
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		select {
		case w.inbox <- workItem{timeout: true}:
		case <-ctx.Done():
		}
	}
}

// snapshotInterval is how often an active (non-terminal) session's
// worker re-snapshots its state even absent a chain event or timeout,
// per spec §6.3 ("every 5s during activity").
const snapshotInterval = 5 * time.Second

func (m *Manager) runWorker(ctx context.Context, w *worker) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.inbox:
			m.processItem(w.id, item)
		case <-ticker.C:
			m.periodicSnapshot(w.id)
		}
	}
}

// periodicSnapshot re-persists a still-active session's current state.
// Terminal sessions already snapshot on their final transition, so this
// is a no-op for them.
func (m *Manager) periodicSnapshot(sessionID string) {
	sess, err := m.store.Get(sessionID)
	if err != nil || sess.Status.Terminal() {
		return
	}
	m.snapshotAndPublish(sess)
}

func (m *Manager) processItem(sessionID string, item workItem) {
	switch {
	case item.correlated != nil:
		m.handleCorrelatedEvent(sessionID, *item.correlated)
	case item.timeout:
		m.handleTimeout(sessionID)
	}
}

// Dispatch routes a correlated chain event to the owning session's
// worker, spawning one if the session exists but has no worker yet
// (e.g. after a restart's reconciliation pass).
func (m *Manager) Dispatch(ev eventmonitor.CorrelatedEvent) {
	m.mu.Lock()
	w, ok := m.workers[ev.SessionID]
	m.mu.Unlock()

	if !ok {
		sess, err := m.store.Get(ev.SessionID)
		if err != nil {
			return
		}
		m.spawnWorker(sess.ID, sess.ExpiresAt, sess.Timelocks.SrcCancellation)
		m.mu.Lock()
		w = m.workers[ev.SessionID]
		m.mu.Unlock()
	}

	select {
	case w.inbox <- workItem{correlated: &ev}:
	default:
		m.log.Warn("session worker inbox full, blocking", "session_id", ev.SessionID)
		w.inbox <- workItem{correlated: &ev}
	}
}

// Run drains the EventMonitor output channel and dispatches each
// correlated event to its session's worker, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, events <-chan eventmonitor.CorrelatedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Dispatch(ev)
		}
	}
}

// Restore re-inserts previously persisted sessions (spec §6.3: startup
// reconciliation) into the store and, for every non-terminal one, spawns
// its worker and re-arms its timeout timer against the restored
// deadlines. Terminal sessions are inserted for read access only.
func (m *Manager) Restore(sessions []*session.Session) error {
	for _, sess := range sessions {
		if err := m.store.Create(sess); err != nil {
			return fmt.Errorf("restoring session %s: %w", sess.ID, err)
		}
		if !sess.Status.Terminal() {
			m.spawnWorker(sess.ID, sess.ExpiresAt, sess.Timelocks.SrcCancellation)
		}
	}
	return nil
}

// ReleaseSecret authorizes and returns the session's secret under
// SecretManager's policy, and advances BothLocked → RevealingSecret
// (spec §4.4: "taker calls /secret"). A session already past BothLocked
// (e.g. already Completed by an on-chain withdrawal race) keeps its
// current status; the secret is still returned since SecretManager's
// own policy already permits release in Completed too.
func (m *Manager) ReleaseSecret(sessionID, principal string) ([32]byte, error) {
	secret, err := m.secrets.Release(sessionID, principal)
	if err != nil {
		return [32]byte{}, err
	}

	var publish *session.Session
	m.store.Mutate(sessionID, func(sess *session.Session) error {
		if sess.Status == session.StatusBothLocked {
			sess.Status = session.StatusRevealingSecret
			publish = sess
		}
		return nil
	})
	if publish != nil {
		m.snapshotAndPublish(publish.Clone())
	}

	return secret, nil
}

// RequestExecute signals that the client intends to proceed. The timeout
// watchdog is already armed at creation, so it changes and records
// nothing; it returns a StateConflict error if the session is terminal.
func (m *Manager) RequestExecute(sessionID string) error {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return apperr.New(apperr.StateConflict, "session already reached a terminal state")
	}
	return nil
}

// CheckTimeout forces timeout evaluation for a session outside its
// normal timer firing (spec §6.1 POST /sessions/{id}/check-timeout).
func (m *Manager) CheckTimeout(sessionID string) (session.Status, error) {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	if !sess.Status.Terminal() && !time.Now().UTC().Before(sess.Timelocks.SrcCancellation) {
		m.handleTimeout(sessionID)
		sess, err = m.store.Get(sessionID)
		if err != nil {
			return "", err
		}
	}
	return sess.Status, nil
}

func (m *Manager) publishUpdate(sess *session.Session) {
	payload := map[string]interface{}{
		"session_id": sess.ID,
		"status":     string(sess.Status),
	}
	m.bus.Publish(eventbus.SessionTopic(sess.ID), "session_update", payload)
	m.bus.Publish(eventbus.GlobalTopic, "session_update", payload)
}

func (m *Manager) appendStep(sess *session.Session, step session.ExecutionStep) {
	sess.ExecutionTrace = append(sess.ExecutionTrace, step)
	payload := map[string]interface{}{
		"session_id": sess.ID,
		"step":       step,
	}
	m.bus.Publish(eventbus.SessionTopic(sess.ID), "execution_step", payload)
	m.bus.Publish(eventbus.GlobalTopic, "execution_step", payload)
}

func (m *Manager) snapshotAndPublish(sess *session.Session) {
	if err := session.WriteSnapshot(m.stateDir, sess); err != nil {
		m.log.Error("failed to write session snapshot", "session_id", sess.ID, "error", err)
	}
	m.publishUpdate(sess)
}

func stepID(sess *session.Session, suffix string) string {
	return fmt.Sprintf("%s-%d-%s", sess.ID, len(sess.ExecutionTrace), suffix)
}
