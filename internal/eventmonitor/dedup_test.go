package eventmonitor

import (
	"os"
	"testing"
)

func TestDedupSetSeenOrRemember(t *testing.T) {
	dir, err := os.MkdirTemp("", "dedup-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	d, err := newDedupSet(dir)
	if err != nil {
		t.Fatalf("newDedupSet: %v", err)
	}

	k := dedupKey{chain: "source", txRef: "0xabc", logIndex: 3}

	seen, err := d.SeenOrRemember(k)
	if err != nil {
		t.Fatalf("SeenOrRemember: %v", err)
	}
	if seen {
		t.Fatal("first call should report unseen")
	}

	seen, err = d.SeenOrRemember(k)
	if err != nil {
		t.Fatalf("SeenOrRemember (2nd): %v", err)
	}
	if !seen {
		t.Fatal("second call on same key should report seen")
	}

	d.Close()
}

func TestDedupSetPersistsAcrossRestart(t *testing.T) {
	dir, err := os.MkdirTemp("", "dedup-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	k := dedupKey{chain: "destination", txRef: "tx1", logIndex: 0}

	d1, err := newDedupSet(dir)
	if err != nil {
		t.Fatalf("newDedupSet: %v", err)
	}
	if _, err := d1.SeenOrRemember(k); err != nil {
		t.Fatalf("SeenOrRemember: %v", err)
	}
	d1.Close()

	d2, err := newDedupSet(dir)
	if err != nil {
		t.Fatalf("newDedupSet (reopen): %v", err)
	}
	defer d2.Close()

	seen, err := d2.SeenOrRemember(k)
	if err != nil {
		t.Fatalf("SeenOrRemember (reopened): %v", err)
	}
	if !seen {
		t.Fatal("key recorded before restart should still be seen")
	}
}

func TestDedupSetEvictsOldestOverCapacity(t *testing.T) {
	dir, err := os.MkdirTemp("", "dedup-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	d, err := newDedupSet(dir)
	if err != nil {
		t.Fatalf("newDedupSet: %v", err)
	}
	defer d.Close()

	first := dedupKey{chain: "source", txRef: "first", logIndex: 0}
	d.rememberLoaded(first)

	for i := 0; i < dedupCapacity; i++ {
		d.rememberLoaded(dedupKey{chain: "source", txRef: "filler", logIndex: uint32(i)})
	}

	if _, ok := d.elements[first]; ok {
		t.Fatal("oldest key should have been evicted once capacity was exceeded")
	}
}

func TestDedupSetCompactsLogOnLoad(t *testing.T) {
	dir, err := os.MkdirTemp("", "dedup-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	path := dir + "/dedup.log"
	raw := "source|tx1|0\nsource|tx1|0\nsource|tx2|1\n"
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := newDedupSet(dir)
	if err != nil {
		t.Fatalf("newDedupSet: %v", err)
	}
	defer d.Close()

	compacted, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "source|tx1|0\nsource|tx2|1\n"
	if string(compacted) != want {
		t.Fatalf("compacted dedup.log = %q, want %q", string(compacted), want)
	}

	seen, err := d.SeenOrRemember(dedupKey{chain: "source", txRef: "tx1", logIndex: 0})
	if err != nil {
		t.Fatalf("SeenOrRemember: %v", err)
	}
	if !seen {
		t.Fatal("key loaded from the raw (pre-compaction) log should still be remembered")
	}
}
