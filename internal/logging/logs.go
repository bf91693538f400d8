package logging

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"grimm.is/luci/internal/clock"
)

// SourceKind selects where a log tail is read from.
type SourceKind string

const (
	SourceFile    SourceKind = "file"    // a plain log file, read from the end
	SourceApp     SourceKind = "app"     // the daemon's own ring buffer
	SourceCommand SourceKind = "command" // stdout of a command such as logread or dmesg
)

// Source describes one log source of a log view.
type Source struct {
	Kind    SourceKind `json:"kind"`
	Path    string     `json:"path,omitempty"`
	Command []string   `json:"command,omitempty"`
}

// TailOptions controls how much of a source is returned.
type TailOptions struct {
	Lines   int    // number of newest lines to return (default 100)
	Pattern string // optional regular expression a line must match
	Level   string // optional exact level filter
}

// DefaultTailLines is used when TailOptions.Lines is zero.
const DefaultTailLines = 100

// tailChunk is the block size used when reading a file backwards.
const tailChunk = 4096

// LogReader reads the tail of log sources.
type LogReader struct {
	// Commands lists the executables a SourceCommand may run.
	Commands map[string]bool
	app      *RingBuffer
}

// NewLogReader creates a reader allowed to run logread and dmesg.
func NewLogReader() *LogReader {
	return &LogReader{
		Commands: map[string]bool{"logread": true, "dmesg": true},
		app:      AppBuffer(),
	}
}

// Tail returns the newest matching lines of src in chronological order.
func (r *LogReader) Tail(ctx context.Context, src Source, opts TailOptions) ([]Entry, error) {
	if opts.Lines <= 0 {
		opts.Lines = DefaultTailLines
	}

	var re *regexp.Regexp
	if opts.Pattern != "" {
		var err error
		re, err = regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	switch src.Kind {
	case SourceApp:
		entries := r.app.Tail(0, re)
		return limitEntries(filterLevel(entries, opts.Level), opts.Lines), nil

	case SourceFile:
		// Read more raw lines than requested when filtering, since some
		// of them will be dropped.
		want := opts.Lines
		if re != nil || opts.Level != "" {
			want *= 10
		}
		lines, err := tailFile(src.Path, want)
		if err != nil {
			return nil, err
		}
		return r.parseLines(lines, src.Path, re, opts), nil

	case SourceCommand:
		if len(src.Command) == 0 {
			return nil, fmt.Errorf("command source has no command")
		}
		if !r.Commands[src.Command[0]] {
			return nil, fmt.Errorf("command %q is not allowed", src.Command[0])
		}
		out, err := exec.CommandContext(ctx, src.Command[0], src.Command[1:]...).Output()
		if err != nil {
			return nil, fmt.Errorf("failed to run %s: %w", src.Command[0], err)
		}
		return r.parseLines(splitLines(out), src.Command[0], re, opts), nil
	}
	return nil, fmt.Errorf("unknown log source kind %q", src.Kind)
}

// syslogRe matches: Dec  5 12:34:56 hostname process[pid]: message
var syslogRe = regexp.MustCompile(`^(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+([^:]+):\s*(.*)$`)

// logreadRe matches OpenWrt logread: Thu Dec  5 12:34:56 2024 daemon.info dnsmasq[1]: message
var logreadRe = regexp.MustCompile(`^\w{3}\s+(\w{3}\s+\d+\s+\d+:\d+:\d+\s+\d{4})\s+(\w+)\.(\w+)\s+([^:]+):\s*(.*)$`)

func (r *LogReader) parseLines(lines []string, source string, re *regexp.Regexp, opts TailOptions) []Entry {
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if re != nil && !re.MatchString(line) {
			continue
		}
		entry := parseLine(line, source)
		if opts.Level != "" && entry.Level != opts.Level {
			continue
		}
		entries = append(entries, entry)
	}
	return limitEntries(entries, opts.Lines)
}

func parseLine(line, source string) Entry {
	entry := Entry{
		Source:    source,
		Timestamp: clock.Now(),
		Message:   line,
	}

	if m := logreadRe.FindStringSubmatch(line); m != nil {
		if t, err := time.Parse("Jan _2 15:04:05 2006", m[1]); err == nil {
			entry.Timestamp = t
		}
		entry.Facility = m[4]
		entry.Message = m[5]
		entry.Level = priorityLevel(m[3])
		return entry
	}

	if m := syslogRe.FindStringSubmatch(line); m != nil {
		stamp := m[1] + " " + strconv.Itoa(clock.Now().Year())
		if t, err := time.Parse("Jan _2 15:04:05 2006", stamp); err == nil {
			entry.Timestamp = t
		}
		entry.Facility = m[3]
		entry.Message = m[4]
	}
	entry.Level = detectLevel(entry.Message)
	return entry
}

// priorityLevel maps syslog priorities to entry levels.
func priorityLevel(p string) string {
	switch p {
	case "emerg", "alert", "crit", "err":
		return "error"
	case "warn", "warning":
		return "warn"
	case "debug":
		return "debug"
	}
	return "info"
}

// detectLevel guesses a level from message content.
func detectLevel(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "fail"),
		strings.Contains(lower, "crit"), strings.Contains(lower, "emerg"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warn"
	case strings.Contains(lower, "debug"):
		return "debug"
	}
	return "info"
}

func filterLevel(entries []Entry, level string) []Entry {
	if level == "" {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// limitEntries returns the last n entries.
func limitEntries(entries []Entry, n int) []Entry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func splitLines(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// tailFile returns the last n lines of path, reading backwards in chunks so
// large logs are not loaded whole.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	var data []byte
	offset := size
	for offset > 0 && bytes.Count(data, []byte{'\n'}) <= n {
		chunk := int64(tailChunk)
		if chunk > offset {
			chunk = offset
		}
		offset -= chunk
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, err
		}
		data = append(buf, data...)
	}

	lines := splitLines(data)
	// The first line may be partial when we stopped mid-file.
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
