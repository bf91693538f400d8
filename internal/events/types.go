// Package events provides the pub/sub bus that carries commits, poll
// results and session activity to websocket clients and metrics.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Configuration events
	EventConfigStaged   EventType = "config.staged"
	EventConfigCommit   EventType = "config.commit"
	EventConfigRevision EventType = "config.revision" // sqlite backend wrote a revision

	// Poller events
	EventPollResult EventType = "poll.result"
	EventPollError  EventType = "poll.error"

	// Session events
	EventSessionLogin  EventType = "session.login"
	EventSessionLogout EventType = "session.logout"

	// Notification for the web UI banner
	EventNotify EventType = "ui.notify"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // emitting component: "uci", "poll", "auth"
	Data      any       `json:"data"`
}

// CommitData is the payload for EventConfigCommit and EventConfigStaged.
type CommitData struct {
	Package string   `json:"package"`
	Changes []string `json:"changes"`
	User    string   `json:"user,omitempty"`
}

// RevisionData is the payload for EventConfigRevision.
type RevisionData struct {
	Package  string `json:"package"`
	Revision int64  `json:"revision"`
}

// PollData is the payload for EventPollResult and EventPollError.
type PollData struct {
	View   string `json:"view"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SessionData is the payload for session events.
type SessionData struct {
	User string `json:"user"`
	Role string `json:"role,omitempty"`
}

// NotifyData is a dismissible banner message.
type NotifyData struct {
	Level   string `json:"level"` // "info", "warning", "error"
	Message string `json:"message"`
}
