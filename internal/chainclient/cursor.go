package chainclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Cursor persists a chain client's last-processed block across restarts,
// at state/cursors/<name>.cursor (spec §6.3). Each ChainClient owns its
// own cursor file; nothing else mutates it (spec §5).
type Cursor struct {
	mu   sync.Mutex
	path string
	last uint64
}

// OpenCursor loads (or initializes at zero) the cursor file
// stateDir/cursors/<name>.cursor.
func OpenCursor(stateDir, name string) (*Cursor, error) {
	dir := filepath.Join(stateDir, "cursors")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating cursors directory: %w", err)
	}

	path := filepath.Join(dir, name+".cursor")
	c := &Cursor{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading cursor %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return c, nil
	}
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing cursor %s: %w", path, err)
	}
	c.last = v
	return c, nil
}

// Value returns the last persisted block number.
func (c *Cursor) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Advance persists a new block number if it is greater than the current
// value, writing atomically via temp-file rename.
func (c *Cursor) Advance(block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if block <= c.last {
		return nil
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(block, 10)), 0600); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("renaming cursor: %w", err)
	}
	c.last = block
	return nil
}
