package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ConsoleHandler is a slog.Handler that writes logs in a syslog-like format:
//
//	2026-01-02T15:04:05Z luci[1234]: [info] uci: committed package=network
//
// Every record is also copied into the application ring buffer.
type ConsoleHandler struct {
	opts  slog.HandlerOptions
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
	ring  *RingBuffer
}

var (
	processName   = "luci"
	processNameMu sync.RWMutex
)

// SetProcessName sets the name printed before the pid.
func SetProcessName(name string) {
	processNameMu.Lock()
	defer processNameMu.Unlock()
	processName = name
}

func getProcessName() string {
	processNameMu.RLock()
	defer processNameMu.RUnlock()
	return processName
}

// NewConsoleHandler creates a new ConsoleHandler feeding the application
// ring buffer.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{
		out:  out,
		opts: *opts,
		mu:   &sync.Mutex{},
		ring: AppBuffer(),
	}
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

// Handle formats and writes the record.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := ""
	extra := make(map[string]string)
	collect := func(a slog.Attr) {
		if a.Key == "component" {
			component = strings.ToLower(a.Value.String())
			return
		}
		extra[a.Key] = a.Value.String()
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	buf := make([]byte, 0, 256)
	buf = append(buf, t.Format(time.RFC3339)...)
	buf = append(buf, fmt.Sprintf(" %s[%d]: [%s] ", getProcessName(), os.Getpid(), strings.ToLower(r.Level.String()))...)
	if component != "" {
		buf = append(buf, component...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		if a.Key != "component" {
			buf = appendAttr(buf, a)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "component" {
			buf = appendAttr(buf, a)
		}
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	_, err := h.out.Write(buf)
	h.mu.Unlock()

	if h.ring != nil {
		source := component
		if source == "" {
			source = "system"
		}
		h.ring.Add(Entry{
			Timestamp: t,
			Level:     LevelName(r.Level),
			Source:    source,
			Message:   r.Message,
			Extra:     extra,
		})
	}
	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, ' ')
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"") {
		return append(buf, fmt.Sprintf("%q", val)...)
	}
	return append(buf, val...)
}

// WithAttrs returns a new handler with the given attributes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ConsoleHandler{
		opts:  h.opts,
		out:   h.out,
		mu:    h.mu,
		attrs: merged,
		ring:  h.ring,
	}
}

// WithGroup is a no-op; console output is flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
