// Package fs is the filesystem helper behind the "file" RPC object.
//
// Every path is checked against an allow-list before it is touched and
// commands run only when named in the exec allow-list. Views use the
// *Default variants, which degrade a failure to a fallback value.
package fs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/logging"
)

const (
	// DefaultMaxRead bounds Read.
	DefaultMaxRead = 4 << 20
	// DefaultExecTimeout bounds Exec when ctx has no deadline.
	DefaultExecTimeout = 30 * time.Second
	maxExecOutput      = 1 << 20
)

var (
	ErrNotAllowed = errors.New("not allowed")
	ErrTooLarge   = errors.New("file too large")
)

// Config restricts the helper.
type Config struct {
	// Allow lists directories (or files) that may be read and written.
	Allow []string
	// Exec lists commands that may be run, by absolute path or base name.
	Exec    []string
	MaxRead int64
}

// DefaultConfig allows the UCI tree, logs and the usual status files.
func DefaultConfig() Config {
	return Config{
		Allow:   []string{"/etc/config", "/etc/luci", "/var/log", "/proc", "/sys/class/net", "/tmp"},
		Exec:    []string{"/sbin/logread", "/bin/dmesg", "/usr/bin/uptime"},
		MaxRead: DefaultMaxRead,
	}
}

// Stat describes a filesystem entry.
type Stat struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Mode  uint32 `json:"mode"`
	Mtime int64  `json:"mtime"`
}

// ExecResult is the outcome of a finished command.
type ExecResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// Helper performs checked filesystem operations.
type Helper struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a helper.
func New(cfg Config) *Helper {
	if cfg.MaxRead <= 0 {
		cfg.MaxRead = DefaultMaxRead
	}
	return &Helper{cfg: cfg, logger: logging.WithComponent("fs")}
}

func (h *Helper) check(path string) (string, error) {
	if err := datatype.ValidatePath(path, h.cfg.Allow); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAllowed, err)
	}
	return filepath.Clean(path), nil
}

// Read returns the content of a file.
func (h *Helper) Read(ctx context.Context, path string) (string, error) {
	path, err := h.check(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxRead+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > h.cfg.MaxRead {
		return "", fmt.Errorf("read %s: %w", path, ErrTooLarge)
	}
	return string(data), nil
}

// Lines returns the lines of a file without their terminators.
func (h *Helper) Lines(ctx context.Context, path string) ([]string, error) {
	data, err := h.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), int(h.cfg.MaxRead))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// Trimmed returns the content of a file without surrounding whitespace.
func (h *Helper) Trimmed(ctx context.Context, path string) (string, error) {
	data, err := h.Read(ctx, path)
	return strings.TrimSpace(data), err
}

// Write replaces a file atomically. A zero mode keeps the mode of an
// existing file and defaults to 0644.
func (h *Helper) Write(ctx context.Context, path, data string, mode os.FileMode) error {
	path, err := h.check(path)
	if err != nil {
		return err
	}
	if mode == 0 {
		mode = 0644
		if fi, err := os.Stat(path); err == nil {
			mode = fi.Mode().Perm()
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	h.logger.Info("file written", "path", path, "bytes", len(data))
	return nil
}

// Remove deletes a file or an empty directory.
func (h *Helper) Remove(ctx context.Context, path string) error {
	path, err := h.check(path)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Stat describes path without following a final symlink.
func (h *Helper) Stat(ctx context.Context, path string) (Stat, error) {
	path, err := h.check(path)
	if err != nil {
		return Stat{}, err
	}
	fi, err := os.Lstat(path)
	if err != nil {
		return Stat{}, err
	}
	return statOf(fi), nil
}

// List returns the entries of a directory sorted by name.
func (h *Helper) List(ctx context.Context, path string) ([]Stat, error) {
	path, err := h.check(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]Stat, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		out = append(out, statOf(fi))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func statOf(fi iofs.FileInfo) Stat {
	return Stat{
		Name:  fi.Name(),
		Type:  typeOf(fi.Mode()),
		Size:  fi.Size(),
		Mode:  uint32(fi.Mode().Perm()),
		Mtime: fi.ModTime().Unix(),
	}
}

func typeOf(m iofs.FileMode) string {
	switch {
	case m.IsDir():
		return "directory"
	case m&iofs.ModeSymlink != 0:
		return "symlink"
	case m&iofs.ModeNamedPipe != 0:
		return "fifo"
	case m&iofs.ModeSocket != 0:
		return "socket"
	case m&iofs.ModeCharDevice != 0:
		return "char"
	case m&iofs.ModeDevice != 0:
		return "block"
	}
	return "file"
}

// Allowed returns the allow-listed path of command.
func (h *Helper) Allowed(command string) (string, bool) {
	for _, c := range h.cfg.Exec {
		if c == command || (!strings.Contains(command, "/") && filepath.Base(c) == command) {
			return c, true
		}
	}
	return "", false
}

// Exec runs an allowed command without a shell. A non-zero exit status is
// reported in the result, not as an error.
func (h *Helper) Exec(ctx context.Context, command string, args []string, env map[string]string) (ExecResult, error) {
	path, ok := h.Allowed(command)
	if !ok {
		return ExecResult{}, fmt.Errorf("%w: command %s", ErrNotAllowed, command)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultExecTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin"}
	for k, v := range env {
		if datatype.ValidateIdentifier(k) != nil {
			return ExecResult{}, fmt.Errorf("%w: environment variable %q", ErrNotAllowed, k)
		}
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr limitedBuffer
	stdout.limit, stderr.limit = maxExecOutput, maxExecOutput
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("exec %s: %w", command, err)
		}
		res.Code = exitErr.ExitCode()
	}
	h.logger.Debug("command finished", "command", command, "code", res.Code)
	return res, nil
}

// ReadDefault returns the content of path, or def when it cannot be read.
func (h *Helper) ReadDefault(ctx context.Context, path, def string) string {
	data, err := h.Read(ctx, path)
	if err != nil {
		h.logger.Debug("read resolved to default", "path", path, "error", err)
		return def
	}
	return data
}

// ListDefault returns the entries of path, or nil when it cannot be listed.
func (h *Helper) ListDefault(ctx context.Context, path string) []Stat {
	entries, err := h.List(ctx, path)
	if err != nil {
		h.logger.Debug("list resolved to default", "path", path, "error", err)
		return nil
	}
	return entries
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
