package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"grimm.is/luci/internal/events"
)

// Session represents an active login session. Its ID has the 32 hex digit
// form of a ubus session id.
type Session struct {
	ID        string    `json:"ubus_rpc_session"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Timeout returns the remaining lifetime at now.
func (s *Session) Timeout(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Authenticate validates credentials and opens a session.
func (s *Store) Authenticate(username, password string) (*Session, error) {
	s.mu.Lock()
	user, exists := s.users[username]
	if !exists {
		s.mu.Unlock()
		// Spend comparable time on unknown users.
		bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
		s.logger.Warn("login failed", "user", username)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(password)); err != nil {
		s.mu.Unlock()
		s.logger.Warn("login failed", "user", username)
		return nil, ErrInvalidCredentials
	}

	now := s.clock.Now()
	sess := &Session{
		ID:        newSessionID(),
		Username:  username,
		Role:      user.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.Sessions.Set(float64(count))
	s.logger.Info("login", "user", username, "role", string(user.Role))
	s.publish(events.EventSessionLogin, sess)
	out := *sess
	return &out, nil
}

func (s *Store) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte(newSessionID()), s.cost)
	})
	return s.dummy
}

// Session validates id and extends its lifetime by the TTL.
func (s *Store) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sessions of a deleted user set are stale.
	if len(s.users) == 0 {
		return nil, ErrSessionInvalid
	}
	sess, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionInvalid
	}
	now := s.clock.Now()
	if !now.Before(sess.ExpiresAt) {
		delete(s.sessions, id)
		s.metrics.Sessions.Set(float64(len(s.sessions)))
		return nil, ErrSessionExpired
	}
	if _, exists := s.users[sess.Username]; !exists {
		return nil, ErrSessionInvalid
	}
	sess.ExpiresAt = now.Add(s.ttl)
	out := *sess
	return &out, nil
}

// Destroy ends a session.
func (s *Store) Destroy(id string) error {
	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists {
		s.mu.Unlock()
		return ErrSessionInvalid
	}
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.Sessions.Set(float64(count))
	s.logger.Info("logout", "user", sess.Username)
	s.publish(events.EventSessionLogout, sess)
	return nil
}

// Reap drops expired sessions and returns how many were removed.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	n := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	s.metrics.Sessions.Set(float64(len(s.sessions)))
	return n
}

// ActiveSessions returns the number of open sessions.
func (s *Store) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) publish(t events.EventType, sess *Session) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.Event{
		Type:   t,
		Source: "auth",
		Data:   events.SessionData{User: sess.Username, Role: string(sess.Role)},
	})
}

type sessionKey struct{}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session of the caller, if any.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey{}).(*Session)
	return sess
}

// UserFromContext returns the username of the caller, or "".
func UserFromContext(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess != nil {
		return sess.Username
	}
	return ""
}
