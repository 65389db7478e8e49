package secretmgr

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/baseswap/orchestrator/internal/session"
)

type fakeLookup struct {
	sessions map[string]*session.Session
}

func (f *fakeLookup) Get(id string) (*session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func TestNewSecretHashlockIntegrity(t *testing.T) {
	m := New(&fakeLookup{sessions: map[string]*session.Session{}})

	secret, hashlock, err := m.NewSecret("sess-1")
	if err != nil {
		t.Fatalf("NewSecret() error = %v", err)
	}

	want := sha256.Sum256(secret[:])
	if hashlock != want {
		t.Errorf("hashlock = %x, want %x", hashlock, want)
	}

	got, err := m.LookupBySession("sess-1")
	if err != nil {
		t.Fatalf("LookupBySession() error = %v", err)
	}
	if got != hashlock {
		t.Errorf("LookupBySession = %x, want %x", got, hashlock)
	}
}

func TestReleasePolicy(t *testing.T) {
	lookup := &fakeLookup{sessions: map[string]*session.Session{
		"sess-1": {ID: "sess-1", Taker: "0xAAA", Status: session.StatusBothLocked},
	}}
	m := New(lookup)
	secret, _, err := m.NewSecret("sess-1")
	if err != nil {
		t.Fatalf("NewSecret() error = %v", err)
	}

	// Wrong principal denied.
	if _, err := m.Release("sess-1", "0xBBB"); err == nil {
		t.Fatalf("Release() with wrong principal succeeded, want error")
	}

	// Right principal, wrong state denied.
	lookup.sessions["sess-1"].Status = session.StatusSourceLocked
	if _, err := m.Release("sess-1", "0xAAA"); err == nil {
		t.Fatalf("Release() before BothLocked succeeded, want error")
	}

	// Right principal, right state succeeds.
	lookup.sessions["sess-1"].Status = session.StatusBothLocked
	got, err := m.Release("sess-1", "0xAAA")
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got != secret {
		t.Errorf("Release() secret mismatch")
	}

	// Idempotent: repeated calls succeed and return the same secret.
	got2, err := m.Release("sess-1", "0xAAA")
	if err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if got2 != secret {
		t.Errorf("second Release() secret mismatch")
	}
}

func TestSweepExpired(t *testing.T) {
	m := New(&fakeLookup{sessions: map[string]*session.Session{}})
	if _, _, err := m.NewSecret("sess-1"); err != nil {
		t.Fatalf("NewSecret() error = %v", err)
	}

	removed := m.SweepExpired(func(id string) time.Time {
		return time.Now().UTC().Add(-48 * time.Hour)
	})
	if removed != 1 {
		t.Fatalf("SweepExpired() removed = %d, want 1", removed)
	}

	if _, err := m.LookupBySession("sess-1"); err == nil {
		t.Fatalf("secret still present after sweep")
	}
}
