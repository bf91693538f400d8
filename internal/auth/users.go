// Package auth provides users, login sessions and the access policy of the
// bus and the web UI.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
)

// Role defines user permission levels
type Role string

const (
	RoleAdmin  Role = "admin"  // read and write everything
	RoleViewer Role = "viewer" // read-only maps and status
)

// ParseRole accepts "admin" and "viewer".
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleViewer:
		return Role(s), nil
	case "":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanAccess checks if a role has permission for an action
func (r Role) CanAccess(action string) bool {
	switch action {
	case "view":
		return r == RoleAdmin || r == RoleViewer
	case "modify", "admin":
		return r == RoleAdmin
	default:
		return false
	}
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrLastAdmin          = errors.New("cannot remove the last admin user")
	ErrSessionInvalid     = errors.New("invalid session")
	ErrSessionExpired     = errors.New("session expired")
)

// DefaultSessionTTL matches the ubus session timeout.
const DefaultSessionTTL = 5 * time.Minute

// User represents a login account.
type User struct {
	Username  string    `json:"username"`
	Hash      string    `json:"hash"` // bcrypt hash
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options configures a Store.
type Options struct {
	// Path of the users file written by passwd. Empty keeps users in memory.
	Path       string
	SessionTTL time.Duration
	Clock      clock.Clock
	Hub        *events.Hub
	Metrics    *metrics.Registry
	// Cost is the bcrypt cost. Zero selects bcrypt.DefaultCost.
	Cost int
}

// DefaultUsersPath is the default location of the users file.
func DefaultUsersPath() string {
	return filepath.Join(brand.GetStateDir(), "users.json")
}

// Store manages users and sessions. Sessions live in memory only.
type Store struct {
	path    string
	ttl     time.Duration
	clock   clock.Clock
	hub     *events.Hub
	metrics *metrics.Registry
	cost    int
	logger  *logging.Logger

	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session

	dummyOnce sync.Once
	dummy     []byte
}

// usersFile is the persisted form.
type usersFile struct {
	Users map[string]*User `json:"users"`
}

// NewStore creates a store and loads the users file if it exists.
func NewStore(opts Options) (*Store, error) {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}

	s := &Store{
		path:     opts.Path,
		ttl:      opts.SessionTTL,
		clock:    opts.Clock,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		cost:     opts.Cost,
		logger:   logging.WithComponent("auth"),
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return s, nil
}

// load reads the users file. Its entries take precedence over users
// added later with AddUser.
func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var f usersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, u := range f.Users {
		s.users[name] = u
	}
	return nil
}

// saveLocked writes the users file.
// MUST be called while holding the write lock
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(usersFile{Users: s.users}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// HasUsers returns true if any users exist
func (s *Store) HasUsers() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users) > 0
}

// AddUser installs a user with an existing bcrypt hash, as declared in the
// daemon configuration. It is not written to the users file.
func (s *Store) AddUser(username, hash string, role Role) error {
	if username == "" || hash == "" {
		return errors.New("username and hash required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("user %s: %w", username, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return nil
	}
	now := s.clock.Now()
	s.users[username] = &User{Username: username, Hash: hash, Role: role, CreatedAt: now, UpdatedAt: now}
	return nil
}

// CreateUser hashes password and stores a new user.
func (s *Store) CreateUser(username, password string, role Role) error {
	if username == "" || password == "" {
		return errors.New("username and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return ErrUserExists
	}
	now := s.clock.Now()
	s.users[username] = &User{Username: username, Hash: string(hash), Role: role, CreatedAt: now, UpdatedAt: now}
	return s.saveLocked()
}

// SetPassword changes a user's password.
func (s *Store) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.users[username]
	if !exists {
		return ErrUserNotFound
	}
	user.Hash = string(hash)
	user.UpdatedAt = s.clock.Now()
	return s.saveLocked()
}

// DeleteUser removes a user and its sessions.
func (s *Store) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return ErrUserNotFound
	}
	if user.Role == RoleAdmin && s.adminsLocked() <= 1 {
		return ErrLastAdmin
	}
	delete(s.users, username)
	for id, sess := range s.sessions {
		if sess.Username == username {
			delete(s.sessions, id)
		}
	}
	s.metrics.Sessions.Set(float64(len(s.sessions)))
	return s.saveLocked()
}

func (s *Store) adminsLocked() int {
	n := 0
	for _, u := range s.users {
		if u.Role == RoleAdmin {
			n++
		}
	}
	return n
}

// GetUser returns a copy of a user without its hash.
func (s *Store) GetUser(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, exists := s.users[username]
	if !exists {
		return User{}, ErrUserNotFound
	}
	out := *user
	out.Hash = ""
	return out, nil
}

// ListUsers returns all users sorted by name, without password hashes.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out := *u
		out.Hash = ""
		users = append(users, out)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}
