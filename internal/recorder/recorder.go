// Package recorder persists agent status transitions and detection
// samples to SQLite. It is an optional tuning aid: replaying recorded
// samples against adjusted pattern tables shows how a config change would
// have classified past traffic.
package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/termscope/termscope/internal/detect"
	"github.com/termscope/termscope/internal/state"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Recorder wraps a SQLite database for transition/sample persistence.
// Thread-safe for concurrent use from multiple goroutines within one
// process. Multiple OS processes can safely read/write via WAL mode +
// busy timeout.
type Recorder struct {
	db *sql.DB
}

// TransitionRow is one recorded status change.
type TransitionRow struct {
	ID           string
	TerminalID   string
	TerminalName string
	Status       string
	AgentType    string
	RecordedAt   time.Time
}

// SampleRow is one recorded detection result.
type SampleRow struct {
	ID         string
	TerminalID string
	AgentType  string
	Confidence float64
	Source     string
	Line       string
	Reason     string
	RecordedAt time.Time
}

// Open creates or opens the recorder database at dbPath with WAL mode and
// busy timeout, and runs migrations.
func Open(dbPath string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("recorder: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: busy timeout: %w", err)
	}

	r := &Recorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close checkpoints WAL and closes the database.
func (r *Recorder) Close() error {
	_, _ = r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return r.db.Close()
}

func (r *Recorder) migrate() error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("recorder: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("recorder: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id            TEXT PRIMARY KEY,
			terminal_id   TEXT NOT NULL,
			terminal_name TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			agent_type    TEXT NOT NULL DEFAULT '',
			recorded_at   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("recorder: create transitions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			id          TEXT PRIMARY KEY,
			terminal_id TEXT NOT NULL,
			agent_type  TEXT NOT NULL,
			confidence  REAL NOT NULL,
			source      TEXT NOT NULL,
			line        TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("recorder: create samples: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transitions_terminal
		ON transitions (terminal_id, recorded_at)
	`); err != nil {
		return fmt.Errorf("recorder: create transitions index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("recorder: set schema version: %w", err)
	}

	return tx.Commit()
}

// RecordTransition persists one status change event.
func (r *Recorder) RecordTransition(ev state.StatusEvent, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO transitions (id, terminal_id, terminal_name, status, agent_type, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), ev.TerminalID, ev.TerminalName, string(ev.Status), string(ev.Type), at.Unix())
	if err != nil {
		return fmt.Errorf("recorder: record transition: %w", err)
	}
	return nil
}

// RecordSample persists one positive detection result.
func (r *Recorder) RecordSample(terminalID string, res detect.Result, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO samples (id, terminal_id, agent_type, confidence, source, line, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), terminalID, string(res.Type), res.Confidence, string(res.Source), res.Line, res.Reason, at.Unix())
	if err != nil {
		return fmt.Errorf("recorder: record sample: %w", err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions for a terminal,
// newest first. An empty terminalID returns transitions for all
// terminals.
func (r *Recorder) RecentTransitions(terminalID string, limit int) ([]TransitionRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, terminal_id, terminal_name, status, agent_type, recorded_at
		FROM transitions`
	args := []any{}
	if terminalID != "" {
		query += ` WHERE terminal_id = ?`
		args = append(args, terminalID)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("recorder: query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var t TransitionRow
		var ts int64
		if err := rows.Scan(&t.ID, &t.TerminalID, &t.TerminalName, &t.Status, &t.AgentType, &ts); err != nil {
			return nil, fmt.Errorf("recorder: scan transition: %w", err)
		}
		t.RecordedAt = time.Unix(ts, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention window from both tables.
func (r *Recorder) Prune(olderThan time.Time) error {
	cutoff := olderThan.Unix()
	if _, err := r.db.Exec(`DELETE FROM transitions WHERE recorded_at < ?`, cutoff); err != nil {
		return fmt.Errorf("recorder: prune transitions: %w", err)
	}
	if _, err := r.db.Exec(`DELETE FROM samples WHERE recorded_at < ?`, cutoff); err != nil {
		return fmt.Errorf("recorder: prune samples: %w", err)
	}
	return nil
}
