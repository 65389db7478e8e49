package chainclient

import (
	"os"
	"testing"
)

func TestCursorPersistsAcrossReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "cursor-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	c, err := OpenCursor(dir, "src")
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	if got := c.Value(); got != 0 {
		t.Fatalf("fresh cursor value = %d, want 0", got)
	}

	if err := c.Advance(100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := c.Value(); got != 100 {
		t.Fatalf("Value after Advance = %d, want 100", got)
	}

	// Advancing backward must be a no-op.
	if err := c.Advance(50); err != nil {
		t.Fatalf("Advance backward: %v", err)
	}
	if got := c.Value(); got != 100 {
		t.Fatalf("Value after backward Advance = %d, want 100", got)
	}

	reopened, err := OpenCursor(dir, "src")
	if err != nil {
		t.Fatalf("OpenCursor (reopen): %v", err)
	}
	if got := reopened.Value(); got != 100 {
		t.Fatalf("reopened cursor value = %d, want 100", got)
	}
}

func TestCursorSeparateNames(t *testing.T) {
	dir, err := os.MkdirTemp("", "cursor-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	src, _ := OpenCursor(dir, "src")
	dst, _ := OpenCursor(dir, "dst")

	src.Advance(10)
	dst.Advance(20)

	if src.Value() != 10 {
		t.Fatalf("src cursor = %d, want 10", src.Value())
	}
	if dst.Value() != 20 {
		t.Fatalf("dst cursor = %d, want 20", dst.Value())
	}
}
