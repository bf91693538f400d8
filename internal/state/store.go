// Package state is the SQLite configuration backend. Every commit of a
// package is kept as a revision so that any earlier state can be listed,
// inspected and rolled back to.
//
// It uses the pure Go modernc.org/sqlite driver so the daemon cross-compiles
// for routers without CGO.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/uci"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Common errors
var (
	ErrStoreClosed    = errors.New("store is closed")
	ErrNoSuchRevision = errors.New("no such revision")
)

// Revision describes one committed version of a package.
type Revision struct {
	ID        int64     `json:"id"`
	Package   string    `json:"package"`
	Number    int64     `json:"revision"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is sent to subscribers after a package revision was written.
type Change struct {
	Package   string    `json:"package"`
	Revision  int64     `json:"revision"`
	Timestamp time.Time `json:"timestamp"`
}

// SQLiteStore implements uci.Backend with revision history.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	clock  clock.Clock
	keep   int

	subMu       sync.RWMutex
	subscribers map[uint64]chan Change
	nextSubID   uint64
}

var (
	_ uci.Backend    = (*SQLiteStore)(nil)
	_ uci.MultiSaver = (*SQLiteStore)(nil)
)

// Options configures the SQLite store.
type Options struct {
	Path    string      // Database file path (":memory:" for in-memory)
	WALMode bool        // Enable WAL mode for better concurrency
	Keep    int         // Revisions kept per package; 0 keeps everything
	Clock   clock.Clock // Optional: time source (defaults to the package clock)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
		Keep:    50,
	}
}

// NewSQLiteStore opens (or creates) the database.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && !IsMemory(opts.Path) {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Default()
	}

	s := &SQLiteStore{
		db:          db,
		clock:       clk,
		keep:        opts.Keep,
		subscribers: make(map[uint64]chan Change),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
		-- Current content of every package
		CREATE TABLE IF NOT EXISTS packages (
			name TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			revision INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);

		-- Every committed version
		CREATE TABLE IF NOT EXISTS revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			package TEXT NOT NULL,
			revision INTEGER NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			created_at DATETIME NOT NULL,
			UNIQUE (package, revision)
		);

		CREATE INDEX IF NOT EXISTS idx_revisions_package ON revisions(package, revision);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) check() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// List returns all package names.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM packages ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Load returns the current content of a package.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*uci.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var content string
	err := s.db.QueryRowContext(ctx, "SELECT content FROM packages WHERE name = ?", name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", name, uci.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return uci.ParseBytes(name, []byte(content))
}

// Save writes a package as a new revision.
func (s *SQLiteStore) Save(ctx context.Context, p *uci.Package) error {
	return s.SaveAll(ctx, []*uci.Package{p})
}

// SaveAll writes several packages in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, pkgs []*uci.Package) error {
	return s.write(ctx, pkgs, "commit")
}

func (s *SQLiteStore) write(ctx context.Context, pkgs []*uci.Package, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	changes := make([]Change, 0, len(pkgs))
	for _, p := range pkgs {
		content := string(uci.Format(p))

		var rev int64
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(revision), 0) + 1 FROM revisions WHERE package = ?", p.Name,
		).Scan(&rev)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO packages (name, content, revision, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				content = excluded.content,
				revision = excluded.revision,
				updated_at = excluded.updated_at
		`, p.Name, content, rev, now); err != nil {
			return fmt.Errorf("save %s: %w", p.Name, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO revisions (package, revision, content, summary, created_at) VALUES (?, ?, ?, ?, ?)",
			p.Name, rev, content, summary, now,
		); err != nil {
			return fmt.Errorf("record revision %s: %w", p.Name, err)
		}

		if s.keep > 0 {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM revisions WHERE package = ? AND revision <= ?", p.Name, rev-int64(s.keep),
			); err != nil {
				return err
			}
		}
		changes = append(changes, Change{Package: p.Name, Revision: rev, Timestamp: now})
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, c := range changes {
		s.notifySubscribers(c)
	}
	return nil
}

// Revisions lists the kept revisions of a package, newest first.
func (s *SQLiteStore) Revisions(ctx context.Context, name string) ([]Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, package, revision, COALESCE(summary, ''), created_at FROM revisions WHERE package = ? ORDER BY revision DESC",
		name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.ID, &r.Package, &r.Number, &r.Summary, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Revision returns the content of one revision.
func (s *SQLiteStore) Revision(ctx context.Context, name string, rev int64) (*uci.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var content string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM revisions WHERE package = ? AND revision = ?", name, rev,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s revision %d: %w", name, rev, ErrNoSuchRevision)
	}
	if err != nil {
		return nil, err
	}
	return uci.ParseBytes(name, []byte(content))
}

// Rollback makes an earlier revision current again. The rollback itself is
// recorded as a new revision, so it can be undone.
func (s *SQLiteStore) Rollback(ctx context.Context, name string, rev int64) error {
	p, err := s.Revision(ctx, name, rev)
	if err != nil {
		return err
	}
	return s.write(ctx, []*uci.Package{p}, fmt.Sprintf("rollback to %d", rev))
}

// Seed copies every package of src that the database does not have yet.
// Used to import /etc/config on first start.
func (s *SQLiteStore) Seed(ctx context.Context, src uci.Backend) (int, error) {
	names, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	existing, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}

	var pkgs []*uci.Package
	for _, name := range names {
		if have[name] {
			continue
		}
		p, err := src.Load(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", name, err)
		}
		pkgs = append(pkgs, p)
	}
	if len(pkgs) == 0 {
		return 0, nil
	}
	return len(pkgs), s.write(ctx, pkgs, "import")
}

// notifySubscribers sends a change to all subscribers.
func (s *SQLiteStore) notifySubscribers(change Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
			// Subscriber is slow, skip
		}
	}
}

// Subscribe returns a channel that receives every written revision until
// ctx is done.
func (s *SQLiteStore) Subscribe(ctx context.Context) <-chan Change {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Change, 100)
	s.subscribers[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		// Only close if the channel is still registered (prevents double-close)
		if _, exists := s.subscribers[id]; exists {
			delete(s.subscribers, id)
			close(ch)
		}
	}()

	return ch
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.subMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	return s.db.Close()
}

// IsMemory reports whether path names an in-memory database.
func IsMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
