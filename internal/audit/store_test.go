package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/rpc"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	s, err := NewStore(Options{Path: ":memory:", Retention: 24 * time.Hour, Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_WriteQuery(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(epoch)
	s := newTestStore(t, clk)

	require.NoError(t, s.Write(ctx, Event{User: "root", Action: ActionLogin, Resource: "session"}))
	clk.Advance(time.Minute)
	require.NoError(t, s.Write(ctx, Event{
		User:     "root",
		Action:   ActionCommit,
		Resource: "uci/system",
		Details:  map[string]any{"changes": []string{"system.@system[0].hostname='gw'"}},
	}))
	clk.Advance(time.Minute)
	require.NoError(t, s.Write(ctx, Event{User: "guest", Action: ActionLogin, Resource: "session"}))

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "guest", all[0].User, "newest first")
	assert.Equal(t, epoch.Add(2*time.Minute), all[0].Timestamp)

	commits, err := s.Query(ctx, Query{Action: ActionCommit})
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "uci/system", commits[0].Resource)
	assert.Equal(t, []any{"system.@system[0].hostname='gw'"}, commits[0].Details["changes"])

	root, err := s.Query(ctx, Query{User: "root", Since: epoch.Add(30 * time.Second)})
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, ActionCommit, root[0].Action)

	limited, err := s.Query(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(epoch)
	s := newTestStore(t, clk)

	require.NoError(t, s.Write(ctx, Event{Action: ActionLogin, Resource: "session"}))
	clk.Advance(23 * time.Hour)
	require.NoError(t, s.Write(ctx, Event{Action: ActionLogout, Resource: "session"}))
	clk.Advance(2 * time.Hour)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_FileAndClosed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "audit.db")

	s, err := NewStore(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, Event{Action: ActionLogin, Resource: "session"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Write(ctx, Event{Action: ActionLogin}), ErrClosed)

	s, err = NewStore(Options{Path: path})
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFromEvent(t *testing.T) {
	evt, ok := FromEvent(events.Event{
		Type: events.EventConfigCommit,
		Data: events.CommitData{Package: "network", Changes: []string{"network.lan.ipaddr='10.0.0.1'"}},
	})
	require.True(t, ok)
	assert.Equal(t, ActionCommit, evt.Action)
	assert.Equal(t, "uci/network", evt.Resource)

	evt, ok = FromEvent(events.Event{
		Type: events.EventSessionLogout,
		Data: events.SessionData{User: "root", Role: "admin"},
	})
	require.True(t, ok)
	assert.Equal(t, ActionLogout, evt.Action)
	assert.Equal(t, "root", evt.User)

	_, ok = FromEvent(events.Event{Type: events.EventPollResult, Data: events.PollData{View: "x"}})
	assert.False(t, ok)
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub()
	s := newTestStore(t, nil)

	stop := Record(hub, s, nil)
	hub.Publish(events.Event{Type: events.EventSessionLogin, Data: events.SessionData{User: "root"}})
	hub.Publish(events.Event{Type: events.EventPollResult, Data: events.PollData{View: "x"}})
	hub.Publish(events.Event{Type: events.EventConfigCommit, Data: events.CommitData{Package: "system"}})

	require.Eventually(t, func() bool {
		n, err := s.Count(ctx)
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)
	stop()
	stop()

	hub.Publish(events.Event{Type: events.EventSessionLogin, Data: events.SessionData{User: "late"}})
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestObject_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, clock.NewMockClock(epoch))
	require.NoError(t, s.Write(ctx, Event{User: "root", Action: ActionLogin, Resource: "session"}))
	require.NoError(t, s.Write(ctx, Event{User: "root", Action: ActionCommit, Resource: "uci/system"}))

	bus := rpc.NewBus()
	require.NoError(t, bus.Register("luci.audit", s.Object()))

	res, err := bus.Call(ctx, "luci.audit", "list", rpc.Args{"action": ActionCommit})
	require.NoError(t, err)
	evts := res.(map[string]any)["events"].([]Event)
	require.Len(t, evts, 1)
	assert.Equal(t, "uci/system", evts[0].Resource)

	res, err = bus.Call(ctx, "luci.audit", "count", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.(map[string]any)["count"])

	_, err = bus.Call(ctx, "luci.audit", "list", rpc.Args{"limit": "ten"})
	assert.ErrorIs(t, err, rpc.ErrInvalidArgument)
}
