// Package audit keeps a persistent trail of configuration commits and
// logins. Entries are taken from the event hub and stored in SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/state"

	_ "modernc.org/sqlite"
)

// DefaultRetention is how long entries are kept when Options.Retention is 0.
const DefaultRetention = 90 * 24 * time.Hour

var ErrClosed = errors.New("audit store is closed")

// Event is one audit entry.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	User      string         `json:"user,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details,omitempty"`
}

// Options configures the store.
type Options struct {
	Path      string // database file, or ":memory:"
	Retention time.Duration
	Clock     clock.Clock
}

// Query selects entries. Zero fields match everything.
type Query struct {
	Since  time.Time
	Until  time.Time
	Action string
	User   string
	Limit  int
}

// Store provides persistent storage for audit events.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	clock     clock.Clock
	retention time.Duration
	closed    bool
}

// NewStore opens or creates the audit database.
func NewStore(opts Options) (*Store, error) {
	if !state.IsMemory(opts.Path) {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			user TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_events(user);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	s := &Store{db: db, clock: opts.Clock, retention: opts.Retention}
	if s.clock == nil {
		s.clock = clock.Default()
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	return s, nil
}

// Write persists evt. A zero timestamp is set from the store's clock.
func (s *Store) Write(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}
	var details sql.NullString
	if len(evt.Details) > 0 {
		b, err := json.Marshal(evt.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (ts, user, action, resource, details) VALUES (?, ?, ?, ?, ?)`,
		evt.Timestamp.UnixNano(), evt.User, evt.Action, evt.Resource, details)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *Store) Query(ctx context.Context, q Query) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var where []string
	var args []any
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, q.Action)
	}
	if q.User != "" {
		where = append(where, "user = ?")
		args = append(args, q.User)
	}

	query := "SELECT id, ts, user, action, resource, details FROM audit_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			evt     Event
			ts      int64
			details sql.NullString
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.User, &evt.Action, &evt.Resource, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.Timestamp = time.Unix(0, ts).UTC()
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &evt.Details); err != nil {
				return nil, fmt.Errorf("decode details of event %d: %w", evt.ID, err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// Prune removes entries older than the retention period.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	cutoff := s.clock.Now().Add(-s.retention)
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
