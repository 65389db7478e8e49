package sessionmgr

import (
	"crypto/sha256"
	"time"

	"github.com/baseswap/orchestrator/internal/chainclient"
	"github.com/baseswap/orchestrator/internal/eventmonitor"
	"github.com/baseswap/orchestrator/internal/session"
)

// handleCorrelatedEvent applies one on-chain event to its session,
// implementing the transition table in spec §4.4. All mutation happens
// under session.Store.Mutate, which holds the store's write lock while
// fn runs, so it never interleaves with a reader or with another
// mutation (including those made from API calls such as ReleaseSecret).
func (m *Manager) handleCorrelatedEvent(sessionID string, ce eventmonitor.CorrelatedEvent) {
	var publish *session.Session

	err := m.store.Mutate(sessionID, func(sess *session.Session) error {
		if sess.Status.Terminal() {
			// Re-observed event after a session already reached a
			// terminal state: idempotent no-op (spec §4.4).
			return nil
		}

		switch ce.Event.Kind {
		case chainclient.EventEscrowCreated:
			applySourceLock(m, sess, ce.Event)
		case chainclient.EventHTLCCreated:
			applyDestinationLock(m, sess, ce.Event)
		case chainclient.EventWithdrawn:
			applyWithdrawal(m, sess, ce.Event, isSource(ce.Chain))
		case chainclient.EventHTLCWithdrawn:
			applyWithdrawal(m, sess, ce.Event, isSource(ce.Chain))
		case chainclient.EventCancelled, chainclient.EventHTLCRefunded:
			applyCancelOrRefund(m, sess, ce.Event)
		}

		publish = sess
		return nil
	})

	if err != nil {
		m.log.Error("failed to apply correlated event", "session_id", sessionID, "error", err)
		return
	}
	if publish != nil {
		m.snapshotAndPublish(publish.Clone())
	}
}

func isSource(chain string) bool { return chain == "source" }

// applySourceLock handles SrcEscrowCreated: validates amount, hashlock
// is implicit (EventMonitor only correlates same-hashlock events), and
// that the observed lock's timelock is set and not earlier than the
// source withdrawal deadline this orchestrator derived at creation.
func applySourceLock(m *Manager, sess *session.Session, ev chainclient.DecodedEvent) {
	if sess.Status != session.StatusCreated && sess.Status != session.StatusSourceLocking {
		// Double-lock / replay: first lock already accepted or rejected.
		m.log.Warn("ignoring SrcEscrowCreated outside Created/SourceLocking", "session_id", sess.ID, "status", sess.Status)
		return
	}
	if sess.Source.Lock != nil {
		// A source lock was already accepted; this is a conflicting
		// second lock for the same session — do not advance (spec
		// §4.4 double-locking rule).
		m.log.Warn("conflicting second SrcEscrowCreated ignored", "session_id", sess.ID)
		return
	}

	if sess.Status == session.StatusCreated {
		// The log has been observed and correlated to this session but
		// not yet validated against the quoted amount and timelock;
		// hold here so a client watching the session sees the
		// in-flight lock before it is confirmed or rejected.
		sess.Status = session.StatusSourceLocking
		m.appendStep(sess, session.ExecutionStep{
			ID: stepID(sess, "source-lock-observed"), Contract: ev.ContractRef, Function: "EscrowCreated",
			Status: session.StepPending, TxRef: ev.TxRef, Timestamp: time.Now().UTC(),
		})
		m.snapshotAndPublish(sess.Clone())
	}

	if ev.Amount == nil || ev.Amount.Cmp(sess.Source.Amount) < 0 {
		failSession(m, sess, session.FailureInvalidLock)
		return
	}
	if ev.Timelock.IsZero() || ev.Timelock.Before(sess.Timelocks.SrcWithdrawal) {
		failSession(m, sess, session.FailureInvalidLock)
		return
	}

	sess.Source.Lock = &session.Lock{
		ChainRef:    ev.TxRef,
		ContractRef: ev.ContractRef,
		Amount:      ev.Amount,
		Timeout:     ev.Timelock,
		ObservedAt:  time.Now().UTC(),
	}
	sess.Status = session.StatusSourceLocked
	m.appendStep(sess, session.ExecutionStep{
		ID: stepID(sess, "source-lock"), Contract: ev.ContractRef, Function: "EscrowCreated",
		Status: session.StepCompleted, TxRef: ev.TxRef, Timestamp: time.Now().UTC(),
	})
}

// applyDestinationLock handles HTLCCreated. If the source leg has not
// yet locked, this is the tie-break case: stay in Created and warn,
// rather than advancing past a state the source side hasn't reached.
func applyDestinationLock(m *Manager, sess *session.Session, ev chainclient.DecodedEvent) {
	if sess.Status == session.StatusCreated {
		m.log.Warn("destination locked before source; holding in Created", "session_id", sess.ID)
		return
	}
	if sess.Status != session.StatusSourceLocked && sess.Status != session.StatusDestinationLocking {
		m.log.Warn("ignoring HTLCCreated outside SourceLocked/DestinationLocking", "session_id", sess.ID, "status", sess.Status)
		return
	}
	if sess.Destination.Lock != nil {
		m.log.Warn("conflicting second HTLCCreated ignored", "session_id", sess.ID)
		return
	}

	if sess.Status == session.StatusSourceLocked {
		sess.Status = session.StatusDestinationLocking
		m.appendStep(sess, session.ExecutionStep{
			ID: stepID(sess, "destination-lock-observed"), Contract: ev.ContractRef, Function: "HTLCCreated",
			Status: session.StepPending, TxRef: ev.TxRef, Timestamp: time.Now().UTC(),
		})
		m.snapshotAndPublish(sess.Clone())
	}

	if ev.Amount == nil || ev.Amount.Cmp(sess.Destination.Amount) < 0 {
		failSession(m, sess, session.FailureInvalidLock)
		return
	}
	if ev.Timelock.IsZero() || ev.Timelock.Before(sess.Timelocks.DstWithdrawal) {
		failSession(m, sess, session.FailureInvalidLock)
		return
	}

	sess.Destination.Lock = &session.Lock{
		ChainRef:    ev.TxRef,
		ContractRef: ev.ContractRef,
		Amount:      ev.Amount,
		Timeout:     ev.Timelock,
		ObservedAt:  time.Now().UTC(),
	}
	sess.Status = session.StatusBothLocked
	m.appendStep(sess, session.ExecutionStep{
		ID: stepID(sess, "destination-lock"), Contract: ev.ContractRef, Function: "HTLCCreated",
		Status: session.StepCompleted, TxRef: ev.TxRef, Timestamp: time.Now().UTC(),
	})
}

// applyWithdrawal handles Withdrawn/HTLCWithdrawn: attacker noise with a
// wrong preimage is ignored rather than failing the session.
func applyWithdrawal(m *Manager, sess *session.Session, ev chainclient.DecodedEvent, fromSource bool) {
	if sess.Status != session.StatusBothLocked && sess.Status != session.StatusRevealingSecret {
		return
	}

	computed := sha256.Sum256(ev.Secret[:])
	if computed != sess.Hashlock {
		m.log.Warn("withdrawal event with non-matching secret ignored", "session_id", sess.ID)
		return
	}

	sess.Status = session.StatusCompleted
	function := "Withdrawn"
	if !fromSource {
		function = "HTLCWithdrawn"
	}
	m.appendStep(sess, session.ExecutionStep{
		ID: stepID(sess, "withdrawal"), Contract: ev.ContractRef, Function: function,
		Status: session.StepCompleted, TxRef: ev.TxRef, Timestamp: time.Now().UTC(),
	})
}

// applyCancelOrRefund handles Cancelled/HTLCRefunded: terminal Refunded
// if observed at or past the cancellation timelock, Failed otherwise
// (an unexpected early cancel).
func applyCancelOrRefund(m *Manager, sess *session.Session, ev chainclient.DecodedEvent) {
	if sess.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	if !now.Before(sess.Timelocks.SrcCancellation) || !now.Before(sess.Timelocks.DstCancellation) {
		sess.Status = session.StatusRefunded
		m.appendStep(sess, session.ExecutionStep{
			ID: stepID(sess, "refund"), Contract: ev.ContractRef, Function: "Refunded",
			Status: session.StepCompleted, TxRef: ev.TxRef, Timestamp: now,
		})
		return
	}

	failSession(m, sess, session.FailureUnexpectedCancel)
}

func failSession(m *Manager, sess *session.Session, reason session.FailureReason) {
	sess.Status = session.StatusFailed
	sess.Reason = reason
	m.appendStep(sess, session.ExecutionStep{
		ID: stepID(sess, "failure"), Status: session.StepFailed, Error: string(reason), Timestamp: time.Now().UTC(),
	})
}
