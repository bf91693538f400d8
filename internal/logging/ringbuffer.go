package logging

import (
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// Entry is one log line, either parsed from a log source or captured from
// the daemon's own logger.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Source    string            `json:"source"`
	Facility  string            `json:"facility,omitempty"`
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RingBuffer is a thread-safe circular buffer for log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Add appends an entry, overwriting the oldest one when full.
func (rb *RingBuffer) Add(entry Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Last returns up to n of the newest entries in chronological order.
// n <= 0 returns everything.
func (rb *RingBuffer) Last(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	result := make([]Entry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Tail returns the newest n entries whose message matches re (nil matches
// everything), in chronological order.
func (rb *RingBuffer) Tail(n int, re *regexp.Regexp) []Entry {
	all := rb.Last(0)
	if re == nil {
		return limitEntries(all, n)
	}
	matched := make([]Entry, 0, len(all))
	for _, e := range all {
		if re.MatchString(e.Message) {
			matched = append(matched, e)
		}
	}
	return limitEntries(matched, n)
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all entries from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
}

var (
	appBuffer     *RingBuffer
	appBufferOnce sync.Once
)

// AppBuffer returns the process-wide buffer fed by ConsoleHandler.
func AppBuffer() *RingBuffer {
	appBufferOnce.Do(func() {
		appBuffer = NewRingBuffer(2000)
	})
	return appBuffer
}

// LevelName converts a slog.Level to the lowercase names used in entries.
func LevelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}
