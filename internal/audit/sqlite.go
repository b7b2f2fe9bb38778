// Package audit persists the append-only operational record: every mode
// transition and, optionally, the step trace of each completed request.
// Rows are inserted and read, never updated or deleted.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"vagus/internal/homeostasis"
	"vagus/internal/orchestrator"
)

// Store records transitions and request traces.
type Store interface {
	RecordTransition(ctx context.Context, t homeostasis.Transition) error
	RecordTrace(ctx context.Context, res *orchestrator.Result) error
	Transitions(ctx context.Context, limit int) ([]homeostasis.Transition, error)
	Close() error
}

// SQLiteStore is the file-backed Store.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the audit database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mode_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		from_mode TEXT NOT NULL,
		to_mode TEXT NOT NULL,
		metrics TEXT,
		rationale TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_at ON mode_transitions(at);

	CREATE TABLE IF NOT EXISTS request_traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		steps TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_traces_trace_id ON request_traces(trace_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize audit schema: %w", err)
	}
	return nil
}

// RecordTransition appends one mode transition.
func (s *SQLiteStore) RecordTransition(ctx context.Context, t homeostasis.Transition) error {
	metrics, err := json.Marshal(t.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mode_transitions (at, from_mode, to_mode, metrics, rationale) VALUES (?, ?, ?, ?, ?)`,
		t.Time.UTC().Format(time.RFC3339Nano), t.From.String(), t.To.String(), string(metrics), t.Rationale,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// RecordTrace appends one completed request's step trace.
func (s *SQLiteStore) RecordTrace(ctx context.Context, res *orchestrator.Result) error {
	steps, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO request_traces (trace_id, session_id, state, error, steps) VALUES (?, ?, ?, ?, ?)`,
		res.TraceID, res.SessionID, res.State.String(), res.Error, string(steps),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Transitions returns the most recent transitions, oldest first.
func (s *SQLiteStore) Transitions(ctx context.Context, limit int) ([]homeostasis.Transition, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, from_mode, to_mode, metrics, rationale FROM (
			SELECT * FROM mode_transitions ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []homeostasis.Transition
	for rows.Next() {
		var at, from, to, metrics, rationale string
		if err := rows.Scan(&at, &from, &to, &metrics, &rationale); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}

		t := homeostasis.Transition{Rationale: rationale}
		if parsed, err := time.Parse(time.RFC3339Nano, at); err == nil {
			t.Time = parsed
		}
		if t.From, err = homeostasis.ParseMode(from); err != nil {
			return nil, fmt.Errorf("bad from_mode %q: %w", from, err)
		}
		if t.To, err = homeostasis.ParseMode(to); err != nil {
			return nil, fmt.Errorf("bad to_mode %q: %w", to, err)
		}
		if metrics != "" {
			_ = json.Unmarshal([]byte(metrics), &t.Metrics)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NoopStore discards everything. Used when auditing is disabled.
type NoopStore struct{}

func (NoopStore) RecordTransition(context.Context, homeostasis.Transition) error { return nil }
func (NoopStore) RecordTrace(context.Context, *orchestrator.Result) error        { return nil }
func (NoopStore) Transitions(context.Context, int) ([]homeostasis.Transition, error) {
	return nil, nil
}
func (NoopStore) Close() error { return nil }
