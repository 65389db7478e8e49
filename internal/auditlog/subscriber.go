package auditlog

import (
	"context"
	"encoding/json"

	"github.com/baseswap/orchestrator/internal/eventbus"
)

// Attach subscribes to every EventBus message and persists it as an
// audit entry, until ctx is cancelled. The audit log is a secondary
// sink: it never blocks publishing (it reads from its own bounded
// subscriber mailbox like any other consumer) and a write failure is
// only logged, never propagated.
func Attach(ctx context.Context, bus *eventbus.Bus, l *Log) {
	sub := bus.NewSubscriber("auditlog")
	sub.Subscribe(eventbus.GlobalTopic) // global topic only: every event is also published there, avoiding double-counting the session-scoped copy
	go func() {
		defer bus.Remove(sub.ID)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				detail, err := json.Marshal(msg.Data)
				if err != nil {
					l.log.Error("failed to encode audit entry detail", "error", err)
					continue
				}
				if err := l.Append(sessionIDFromPayload(msg.Data), msg.Type, string(detail)); err != nil {
					l.log.Error("failed to persist audit entry", "error", err)
				}
			}
		}
	}()
}

// sessionIDFromPayload extracts "session_id" from a published payload
// when present; global events with no session association (e.g.
// chain_unavailable) are recorded with an empty session ID.
func sessionIDFromPayload(data interface{}) string {
	m, ok := data.(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := m["session_id"].(string)
	return id
}
