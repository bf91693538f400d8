package logging

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"grimm.is/luci/internal/clock"
)

// SyslogConfig holds remote syslog configuration.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int    // default 514
	Protocol string // udp or tcp, default udp
	Tag      string // default luci
	Facility int    // default 1 (user)
}

// DefaultSyslogConfig returns the defaults applied by NewSyslogWriter.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Port:     514,
		Protocol: "udp",
		Tag:      "luci",
		Facility: 1,
	}
}

func (c SyslogConfig) withDefaults() SyslogConfig {
	d := DefaultSyslogConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.Tag == "" {
		c.Tag = d.Tag
	}
	return c
}

func (c SyslogConfig) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// SyslogWriter is an io.Writer that forwards each write as one RFC 3164
// message to a remote syslog server.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
	dial     func(network, addr string) (net.Conn, error)
}

// NewSyslogWriter connects to the configured server.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	cfg = cfg.withDefaults()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = cfg.Tag
	}

	w := &SyslogWriter{
		config:   cfg,
		hostname: hostname,
		dial: func(network, addr string) (net.Conn, error) {
			return net.DialTimeout(network, addr, 5*time.Second)
		},
	}
	conn, err := w.dial(cfg.Protocol, cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog server %s: %w", cfg.addr(), err)
	}
	w.conn = conn
	return w, nil
}

// Format renders p as an RFC 3164 message at info severity.
func (w *SyslogWriter) Format(p []byte) []byte {
	priority := w.config.Facility*8 + 6
	return []byte(fmt.Sprintf("<%d>%s %s %s: %s",
		priority, clock.Now().Format(time.Stamp), w.hostname, w.config.Tag, p))
}

// Write implements io.Writer. A failed write drops the connection and
// redials once so the next line has a chance to get through.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return 0, fmt.Errorf("syslog connection closed")
	}

	if _, err := w.conn.Write(w.Format(p)); err != nil {
		w.conn.Close()
		if conn, derr := w.dial(w.config.Protocol, w.config.addr()); derr == nil {
			w.conn = conn
		}
		return 0, err
	}
	return len(p), nil
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// MultiWriter combines writers, e.g. stderr and a SyslogWriter.
func MultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
