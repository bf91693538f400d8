package events

import (
	"context"

	"grimm.is/luci/internal/state"
	"grimm.is/luci/internal/uci"
)

// CommitHook returns a uci.CommitHook that publishes EventConfigCommit.
func CommitHook(hub *Hub) uci.CommitHook {
	return func(pkg string, changes []uci.Change) {
		lines := make([]string, len(changes))
		for i, c := range changes {
			lines[i] = c.String()
		}
		hub.Publish(Event{
			Type:   EventConfigCommit,
			Source: "uci",
			Data:   CommitData{Package: pkg, Changes: lines},
		})
	}
}

// WatchRevisions forwards sqlite revision notifications until ctx is done.
func WatchRevisions(ctx context.Context, hub *Hub, store *state.SQLiteStore) {
	ch := store.Subscribe(ctx)
	go func() {
		for c := range ch {
			hub.Publish(Event{
				Type:      EventConfigRevision,
				Timestamp: c.Timestamp,
				Source:    "state",
				Data:      RevisionData{Package: c.Package, Revision: c.Revision},
			})
		}
	}()
}
