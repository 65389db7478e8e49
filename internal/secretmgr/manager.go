// Package secretmgr generates and guards HTLC secrets: the 32-byte
// preimages whose SHA-256 hash is a session's hashlock. A secret's
// plaintext leaves this package only through Release, and only under the
// policy in spec §4.1.
package secretmgr

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/baseswap/orchestrator/internal/apperr"
	"github.com/baseswap/orchestrator/internal/session"
	"github.com/baseswap/orchestrator/pkg/helpers"
	"github.com/baseswap/orchestrator/pkg/logging"
)

// entry is the private record bound to a session.
type entry struct {
	secret     [32]byte
	hashlock   [32]byte
	sessionID  string
	createdAt  time.Time
	releasedTo string
	releasedAt time.Time
	released   bool
}

// SessionLookup reports the current status and taker of a session, the
// only facts the release policy needs (spec §4.1 (i)/(ii)). It is
// satisfied by *session.Store.
type SessionLookup interface {
	Get(id string) (*session.Session, error)
}

// Manager generates, stores, and releases secrets under policy.
type Manager struct {
	mu        sync.Mutex
	bySession map[string]*entry
	sessions  SessionLookup
	log       *logging.Logger

	retention time.Duration
}

// New creates a Manager. sessions is used only to check the release
// policy (principal == taker, status in {BothLocked, RevealingSecret,
// Completed}).
func New(sessions SessionLookup) *Manager {
	return &Manager{
		bySession: make(map[string]*entry),
		sessions:  sessions,
		log:       logging.GetDefault().Component("secretmgr"),
		retention: 24 * time.Hour,
	}
}

// NewSecret generates a cryptographically strong 32-byte secret bound to
// sessionID and returns it alongside its SHA-256 hashlock. The CSPRNG
// failing is treated as fatal per spec §4.1: this orchestrator never
// emits a weak secret, so the caller should abort session creation
// entirely rather than retry with a degraded source.
func (m *Manager) NewSecret(sessionID string) (secret [32]byte, hashlock [32]byte, err error) {
	raw, err := helpers.GenerateSecureRandom(32)
	if err != nil {
		return [32]byte{}, [32]byte{}, apperr.Wrap(apperr.Internal, "CSPRNG unavailable, refusing to mint secret", err)
	}
	copy(secret[:], raw)
	hashlock = sha256.Sum256(secret[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySession[sessionID] = &entry{
		secret:    secret,
		hashlock:  hashlock,
		sessionID: sessionID,
		createdAt: time.Now().UTC(),
	}

	return secret, hashlock, nil
}

// LookupBySession returns the public hashlock for a session.
func (m *Manager) LookupBySession(sessionID string) ([32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.bySession[sessionID]
	if !ok {
		return [32]byte{}, apperr.New(apperr.NotFound, "no secret for session")
	}
	return e.hashlock, nil
}

// Release returns the plaintext secret for sessionID if principal is
// authorized, per spec §4.1/§3 invariant 4: principal must equal the
// session's taker and the session must be in BothLocked, RevealingSecret,
// or Completed. Idempotent: repeated authorized calls return the same
// secret and bump releasedAt.
func (m *Manager) Release(sessionID, principal string) ([32]byte, error) {
	sess, err := m.sessions.Get(sessionID)
	if err != nil {
		return [32]byte{}, apperr.New(apperr.NotFound, "session not found")
	}

	authorized := helpers.ConstantTimeCompare([]byte(sess.Taker), []byte(principal))
	statusOK := sess.Status == session.StatusBothLocked ||
		sess.Status == session.StatusRevealingSecret ||
		sess.Status == session.StatusCompleted

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.bySession[sessionID]
	if !ok {
		return [32]byte{}, apperr.New(apperr.NotFound, "no secret for session")
	}

	if !authorized || !statusOK {
		m.log.Warn("secret release denied", "session_id", sessionID, "status", sess.Status)
		return [32]byte{}, apperr.New(apperr.Unauthorized, "not authorized to release this secret")
	}

	e.released = true
	e.releasedTo = principal
	e.releasedAt = time.Now().UTC()

	return e.secret, nil
}

// SweepExpired removes secrets belonging to sessions that reached a
// terminal state more than the retention window ago (spec §4.1: "Secrets
// in terminal states older than retention are wiped"). terminalSince
// reports, for a sessionID, when it became terminal (zero time if not
// terminal or unknown), allowing the caller to drive this purely from
// SessionStore state without SecretManager depending on session status
// transition events directly.
func (m *Manager) SweepExpired(terminalSince func(sessionID string) time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, e := range m.bySession {
		ts := terminalSince(id)
		if ts.IsZero() {
			continue
		}
		if now.Sub(ts) > m.retention {
			delete(m.bySession, id)
			removed++
			m.log.Debug("secret retention expired", "session_id", id, "preimage_of", fmt.Sprintf("%x", e.hashlock[:4]))
		}
	}
	return removed
}
