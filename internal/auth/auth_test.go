package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/rpc"
)

func newTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	s, err := NewStore(Options{
		Path:       filepath.Join(t.TempDir(), "users.json"),
		SessionTTL: time.Minute,
		Clock:      clk,
		Metrics:    metrics.New(),
		Cost:       bcrypt.MinCost,
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateUser("root", "correct horse", RoleAdmin))
	require.NoError(t, s.CreateUser("guest", "battery staple", RoleViewer))
	return s
}

func TestStore_Users(t *testing.T) {
	s := newTestStore(t, clock.NewMockClock(time.Unix(0, 0)))

	assert.ErrorIs(t, s.CreateUser("root", "x", RoleAdmin), ErrUserExists)
	u, err := s.GetUser("root")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.Empty(t, u.Hash)

	users := s.ListUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "guest", users[0].Username)

	assert.ErrorIs(t, s.DeleteUser("root"), ErrLastAdmin)
	require.NoError(t, s.DeleteUser("guest"))
	assert.ErrorIs(t, s.DeleteUser("guest"), ErrUserNotFound)

	// The users file is reloaded by a new store.
	reloaded, err := NewStore(Options{Path: s.path, Cost: bcrypt.MinCost, Metrics: metrics.New()})
	require.NoError(t, err)
	_, err = reloaded.Authenticate("root", "correct horse")
	assert.NoError(t, err)
}

func TestStore_AddUserFromConfig(t *testing.T) {
	s := newTestStore(t, clock.NewMockClock(time.Unix(0, 0)))
	hash, err := bcrypt.GenerateFromPassword([]byte("from config"), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, s.AddUser("ops", string(hash), RoleViewer))
	_, err = s.Authenticate("ops", "from config")
	assert.NoError(t, err)

	assert.Error(t, s.AddUser("bad", "plaintext", RoleAdmin))
}

func TestStore_SessionExpiry(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1000, 0))
	hub := events.NewHub()
	logins := hub.Subscribe(4, events.EventSessionLogin, events.EventSessionLogout)
	s := newTestStore(t, clk)
	s.hub = hub

	_, err := s.Authenticate("root", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate("nobody", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sess, err := s.Authenticate("root", "correct horse")
	require.NoError(t, err)
	assert.Len(t, sess.ID, 32)
	assert.Equal(t, 1, s.ActiveSessions())
	assert.Equal(t, "root", (<-logins).Data.(events.SessionData).User)

	// Use within the TTL slides the expiry.
	clk.Advance(50 * time.Second)
	_, err = s.Session(sess.ID)
	require.NoError(t, err)
	clk.Advance(50 * time.Second)
	got, err := s.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got.Timeout(clk.Now()))

	clk.Advance(time.Minute)
	_, err = s.Session(sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, s.ActiveSessions())

	sess, err = s.Authenticate("guest", "battery staple")
	require.NoError(t, err)
	require.NoError(t, s.Destroy(sess.ID))
	assert.ErrorIs(t, s.Destroy(sess.ID), ErrSessionInvalid)
	<-logins
	assert.Equal(t, events.EventSessionLogout, (<-logins).Type)

	_, err = s.Authenticate("guest", "battery staple")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, s.Reap())
}

func TestACL_Authorize(t *testing.T) {
	s := newTestStore(t, clock.NewMockClock(time.Unix(0, 0)))
	acl := NewACL(s, true)
	ctx := context.Background()

	admin, err := s.Authenticate("root", "correct horse")
	require.NoError(t, err)
	viewer, err := s.Authenticate("guest", "battery staple")
	require.NoError(t, err)

	tests := []struct {
		name     string
		sid      string
		object   string
		method   string
		readOnly bool
		ok       bool
	}{
		{"anonymous login", rpc.AnonymousSID, "session", "login", false, true},
		{"anonymous read", rpc.AnonymousSID, "uci", "get", true, false},
		{"anonymous access", rpc.AnonymousSID, "session", "access", true, false},
		{"unknown sid", "ffffffffffffffffffffffffffffffff", "uci", "get", true, false},
		{"viewer read", viewer.ID, "uci", "get", true, true},
		{"viewer write", viewer.ID, "uci", "set", false, false},
		{"viewer destroy", viewer.ID, "session", "destroy", false, true},
		{"admin write", admin.ID, "uci", "commit", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := acl.Authorize(ctx, tt.sid, tt.object, tt.method, tt.readOnly)
			if !tt.ok {
				assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
				assert.True(t, IsDenied(err))
				return
			}
			require.NoError(t, err)
			if tt.sid != rpc.AnonymousSID {
				assert.NotNil(t, SessionFromContext(got))
			}
		})
	}
}

func TestACL_Open(t *testing.T) {
	s := newTestStore(t, clock.NewMockClock(time.Unix(0, 0)))
	acl := NewACL(s, false)

	ctx, err := acl.Authorize(context.Background(), rpc.AnonymousSID, "uci", "commit", false)
	require.NoError(t, err)
	assert.Equal(t, "root", UserFromContext(ctx))
}

func TestSessionObject(t *testing.T) {
	s := newTestStore(t, clock.NewMockClock(time.Unix(0, 0)))
	acl := NewACL(s, true)
	bus := rpc.NewBus()
	bus.SetMetrics(metrics.New())
	bus.SetAuthorizer(acl)
	require.NoError(t, bus.Register("session", acl.Object()))
	ctx := context.Background()

	_, err := bus.CallAs(ctx, rpc.AnonymousSID, "session", "login", rpc.Args{"username": "guest", "password": "nope"})
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)

	res, err := bus.CallAs(ctx, rpc.AnonymousSID, "session", "login", rpc.Args{"username": "guest", "password": "battery staple"})
	require.NoError(t, err)
	reply := res.(map[string]any)
	sid := reply["ubus_rpc_session"].(string)
	assert.Equal(t, 60, reply["timeout"])

	res, err = bus.CallAs(ctx, sid, "session", "access", rpc.Args{"object": "uci", "function": "set", "write": true})
	require.NoError(t, err)
	assert.Equal(t, false, res.(map[string]any)["access"])

	res, err = bus.CallAs(ctx, sid, "session", "access", rpc.Args{"object": "uci", "function": "get"})
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["access"])

	_, err = bus.CallAs(ctx, sid, "session", "destroy", nil)
	require.NoError(t, err)
	_, err = bus.CallAs(ctx, sid, "session", "get", nil)
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
}

func TestValidatePassword(t *testing.T) {
	policy := DefaultPasswordPolicy()
	tests := []struct {
		password string
		ok       bool
	}{
		{"short", false},
		{"aaaaaaaaaaaa", false},
		{"abcdabcd", false},
		{"myrootpass1", false},
		{"Tr0ub4dor&3", true},
		{"correct horse", true},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := ValidatePassword(tt.password, policy, "root")
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	assert.Zero(t, Entropy(""))
	assert.Greater(t, Entropy("Ab1!"), Entropy("abcd"))
}
