package form

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/luci/internal/clock"
)

// DefaultSessionTTL is how long an untouched edit buffer survives.
const DefaultSessionTTL = 30 * time.Minute

// pending is a record created in the buffer and not saved yet.
type pending struct {
	sid     string
	section int
	name    string // named records; empty for anonymous ones
}

// Session is the edit buffer of one user on one map. Records are keyed by
// "<config>.<sid>" so that the buffer reconciles with stored sections by id.
type Session struct {
	ID  string
	Map string

	mu      sync.Mutex
	values  map[string]map[string][]string // record -> option -> values
	added   []pending
	removed map[string]bool
	order   map[int][]string // section index -> stored ids in display order
	errs    ValidationErrors
	seq     int
	touched time.Time
}

// NewSession returns an empty buffer for the named map.
func NewSession(mapName string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Map:     mapName,
		values:  make(map[string]map[string][]string),
		removed: make(map[string]bool),
		order:   make(map[int][]string),
	}
}

// Dirty reports whether the buffer holds unsaved edits.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) > 0 || len(s.added) > 0 || len(s.removed) > 0 || len(s.order) > 0
}

// Errors returns the validation errors of the last failed save.
func (s *Session) Errors() ValidationErrors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(ValidationErrors(nil), s.errs...)
}

func (s *Session) resetLocked() {
	clear(s.values)
	clear(s.removed)
	clear(s.order)
	s.added = nil
	s.errs = nil
}

func (s *Session) get(rec, option string) ([]string, bool) {
	v, ok := s.values[rec][option]
	return v, ok
}

func (s *Session) set(rec, option string, vals []string) {
	r, ok := s.values[rec]
	if !ok {
		r = make(map[string][]string)
		s.values[rec] = r
	}
	r[option] = vals
}

func (s *Session) findPending(sid string) int {
	for i, p := range s.added {
		if p.sid == sid {
			return i
		}
	}
	return -1
}

// Sessions tracks edit buffers by id and expires idle ones.
type Sessions struct {
	ttl   time.Duration
	clock clock.Clock

	mu sync.Mutex
	m  map[string]*Session
}

// NewSessions creates a registry. A zero ttl uses DefaultSessionTTL and a
// nil clock the process default.
func NewSessions(ttl time.Duration, clk clock.Clock) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clk == nil {
		clk = clock.Default()
	}
	return &Sessions{ttl: ttl, clock: clk, m: make(map[string]*Session)}
}

// Open returns the buffer with id for mapName. A buffer that belonged to
// another map is discarded, since navigating away drops unsaved edits; it
// keeps its id. Unknown or expired ids get a fresh buffer under a new
// server-issued id.
func (s *Sessions) Open(id, mapName string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	prev, ok := s.m[id]
	if ok && now.Sub(prev.touched) >= s.ttl {
		delete(s.m, id)
		ok = false
	}
	if ok && prev.Map == mapName {
		prev.touched = now
		return prev
	}
	sess := NewSession(mapName)
	if ok {
		sess.ID = id
	}
	sess.touched = now
	s.m[sess.ID] = sess
	return sess
}

// Get returns a live buffer without creating one.
func (s *Sessions) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok || s.clock.Since(sess.touched) >= s.ttl {
		return nil, false
	}
	return sess, true
}

// Discard drops a buffer.
func (s *Sessions) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

// Reap drops expired buffers and returns how many were removed.
func (s *Sessions) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	before := len(s.m)
	maps.DeleteFunc(s.m, func(_ string, sess *Session) bool {
		return now.Sub(sess.touched) >= s.ttl
	})
	return before - len(s.m)
}

// Len returns the number of tracked buffers.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
