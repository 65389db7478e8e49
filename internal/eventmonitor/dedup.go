package eventmonitor

import (
	"bytes"
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// dedupKey identifies an event uniquely within its source chain: a
// transaction reference plus log index, tagged by which chain emitted
// it (spec §5: dedup on (chain, tx_ref, log_index) triples).
type dedupKey struct {
	chain    string
	txRef    string
	logIndex uint32
}

func (k dedupKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.chain, k.txRef, k.logIndex)
}

const dedupCapacity = 100_000

// dedupSet is a bounded LRU of seen event keys, persisted append-only to
// state/dedup.log so a restart does not reprocess already-confirmed
// events (spec §6.3, P5: "event idempotence").
type dedupSet struct {
	mu       sync.Mutex
	order    *list.List
	elements map[dedupKey]*list.Element
	logFile  *os.File
}

func newDedupSet(stateDir string) (*dedupSet, error) {
	path := filepath.Join(stateDir, "dedup.log")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening dedup log: %w", err)
	}

	d := &dedupSet{
		order:    list.New(),
		elements: make(map[dedupKey]*list.Element),
		logFile:  f,
	}

	if err := d.loadFromDisk(f); err != nil {
		f.Close()
		return nil, err
	}

	// dedup.log is append-only between restarts but compacted on load
	// (spec §6.3): rewrite it down to exactly the LRU-bounded key set
	// just loaded, discarding anything evicted or re-entered above
	// dedupCapacity, before resuming appends.
	if err := d.compact(path); err != nil {
		d.logFile.Close()
		return nil, err
	}
	return d, nil
}

// compact rewrites the dedup log to contain exactly the keys currently
// held in d.order, via the same temp-file-then-rename pattern used for
// session snapshots, then reopens the log for further appends.
func (d *dedupSet) compact(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	for el := d.order.Front(); el != nil; el = el.Next() {
		buf.WriteString(el.Value.(dedupKey).String())
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing compacted dedup log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming compacted dedup log: %w", err)
	}

	if err := d.logFile.Close(); err != nil {
		return fmt.Errorf("closing stale dedup log handle: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("reopening compacted dedup log: %w", err)
	}
	d.logFile = f
	return nil
}

func (d *dedupSet) loadFromDisk(f *os.File) error {
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}

	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)
	for {
		n, err := f.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}

	start := 0
	for i := 0; i <= len(buf); i++ {
		if i == len(buf) || buf[i] == '\n' {
			if i > start {
				if k, ok := parseDedupLine(string(buf[start:i])); ok {
					d.rememberLoaded(k)
				}
			}
			start = i + 1
		}
	}

	if _, err := f.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

func parseDedupLine(line string) (dedupKey, bool) {
	parts := splitPipe(line)
	if len(parts) != 3 {
		return dedupKey{}, false
	}
	var idx uint32
	for _, r := range parts[2] {
		if r < '0' || r > '9' {
			return dedupKey{}, false
		}
		idx = idx*10 + uint32(r-'0')
	}
	return dedupKey{chain: parts[0], txRef: parts[1], logIndex: idx}, true
}

func splitPipe(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

// rememberLoaded inserts a key read from the on-disk log without
// re-writing it.
func (d *dedupSet) rememberLoaded(k dedupKey) {
	if _, ok := d.elements[k]; ok {
		return
	}
	el := d.order.PushBack(k)
	d.elements[k] = el
	d.evictIfOverCapacity()
}

// SeenOrRemember reports whether k has already been processed; if not,
// it is recorded (in memory and durably) and false is returned.
func (d *dedupSet) SeenOrRemember(k dedupKey) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.elements[k]; ok {
		return true, nil
	}

	if _, err := fmt.Fprintf(d.logFile, "%s\n", k.String()); err != nil {
		return false, fmt.Errorf("persisting dedup entry: %w", err)
	}

	el := d.order.PushBack(k)
	d.elements[k] = el
	d.evictIfOverCapacity()
	return false, nil
}

func (d *dedupSet) evictIfOverCapacity() {
	for d.order.Len() > dedupCapacity {
		front := d.order.Front()
		if front == nil {
			return
		}
		d.order.Remove(front)
		delete(d.elements, front.Value.(dedupKey))
	}
}

func (d *dedupSet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logFile.Close()
}
