package auditlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndForSession(t *testing.T) {
	dir, err := os.MkdirTemp("", "auditlog-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	l, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Append("sess-1", "session_update", `{"status":"Created"}`); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append("sess-1", "session_update", `{"status":"SourceLocked"}`); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append("sess-2", "session_update", `{"status":"Created"}`); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.ForSession("sess-1")
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Detail != `{"status":"Created"}` {
		t.Fatalf("entries[0].Detail = %q", entries[0].Detail)
	}
	if entries[1].Detail != `{"status":"SourceLocked"}` {
		t.Fatalf("entries[1].Detail = %q", entries[1].Detail)
	}
}
