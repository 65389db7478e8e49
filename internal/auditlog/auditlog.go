// Package auditlog provides a durable, queryable trail of session state
// transitions and correlated chain events, backed by SQLite the way the
// teacher's internal/storage package backs its secrets table: a single
// *sql.DB opened with WAL journaling and a fan-out target for EventBus
// rather than the canonical session state (that remains the JSON
// snapshots under state/sessions/).
package auditlog

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/baseswap/orchestrator/pkg/logging"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID        int64
	SessionID string
	Kind      string // "session_update", "execution_step", "blockchain_event", "chain_unavailable"
	Detail    string // JSON-encoded payload
	CreatedAt time.Time
}

// Log is the SQLite-backed audit trail.
type Log struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logging.Logger
}

// Open creates (or reuses) the SQLite database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit log database: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Log{db: db, log: logging.GetDefault().Component("auditlog")}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);
	`)
	if err != nil {
		return fmt.Errorf("migrating audit log schema: %w", err)
	}
	return nil
}

// Append records one entry. Failures are logged by the caller, not
// fatal to the publishing path (the audit log is a secondary sink; the
// JSON snapshots remain authoritative per spec §6.3).
func (l *Log) Append(sessionID, kind, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		`INSERT INTO audit_entries (session_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, detail, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ForSession returns all recorded entries for sessionID, oldest first.
func (l *Log) ForSession(sessionID string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(
		`SELECT id, session_id, kind, detail, created_at FROM audit_entries WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
