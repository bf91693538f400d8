package audit

import (
	"context"
	"sync"

	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/logging"
)

// Actions recorded from the event hub.
const (
	ActionCommit = "commit"
	ActionLogin  = "login"
	ActionLogout = "logout"
)

// FromEvent converts a hub event into an audit entry. It reports false for
// events that are not audited.
func FromEvent(e events.Event) (Event, bool) {
	evt := Event{Timestamp: e.Timestamp}
	switch e.Type {
	case events.EventConfigCommit:
		d, ok := e.Data.(events.CommitData)
		if !ok {
			return Event{}, false
		}
		evt.Action = ActionCommit
		evt.Resource = "uci/" + d.Package
		evt.User = d.User
		if len(d.Changes) > 0 {
			evt.Details = map[string]any{"changes": d.Changes}
		}
	case events.EventSessionLogin, events.EventSessionLogout:
		d, ok := e.Data.(events.SessionData)
		if !ok {
			return Event{}, false
		}
		evt.Action = ActionLogin
		if e.Type == events.EventSessionLogout {
			evt.Action = ActionLogout
		}
		evt.Resource = "session"
		evt.User = d.User
		if d.Role != "" {
			evt.Details = map[string]any{"role": d.Role}
		}
	default:
		return Event{}, false
	}
	return evt, true
}

// Record writes audited hub events to s and the audit log line of logger
// until the returned stop function is called. stop waits for pending
// writes to finish.
func Record(hub *events.Hub, s *Store, logger *logging.Logger) (stop func()) {
	ch := hub.Subscribe(128, events.EventConfigCommit, events.EventSessionLogin, events.EventSessionLogout)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				evt, ok := FromEvent(e)
				if !ok {
					continue
				}
				if logger != nil {
					logger.Audit(evt.Action, evt.Resource, map[string]any{"user": evt.User})
				}
				if err := s.Write(context.Background(), evt); err != nil && logger != nil {
					logger.Warn("audit write failed", "action", evt.Action, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			hub.Unsubscribe(ch)
			cancel()
			wg.Wait()
		})
	}
}
