package sessionmgr

import (
	"time"

	"github.com/baseswap/orchestrator/internal/session"
)

// handleTimeout fires when a session's timer reaches min(expires_at,
// src_cancellation) without having completed (spec §4.4). It moves the
// session to TimedOut then immediately to Refunding: the orchestrator
// never submits the refund claim itself, only observes it (mirrors the
// secret-reveal leg).
func (m *Manager) handleTimeout(sessionID string) {
	var publish *session.Session

	err := m.store.Mutate(sessionID, func(sess *session.Session) error {
		if sess.Status.Terminal() {
			return nil
		}

		sess.Status = session.StatusTimedOut
		m.appendStep(sess, session.ExecutionStep{
			ID: stepID(sess, "timeout"), Status: session.StepCompleted, Timestamp: time.Now().UTC(),
		})

		sess.Status = session.StatusRefunding
		m.appendStep(sess, session.ExecutionStep{
			ID: stepID(sess, "refunding"), Status: session.StepPending, Timestamp: time.Now().UTC(),
		})

		publish = sess
		return nil
	})

	if err != nil {
		m.log.Error("failed to apply timeout", "session_id", sessionID, "error", err)
		return
	}
	if publish != nil {
		m.snapshotAndPublish(publish.Clone())
	}
}
