package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/uci"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		add("listen", "invalid address %q", c.Listen)
	}
	switch c.Backend {
	case "file", "sqlite":
	default:
		add("backend", "must be \"file\" or \"sqlite\", got %q", c.Backend)
	}
	if !filepath.IsAbs(c.ConfigDir) {
		add("config_dir", "must be absolute")
	}
	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			add("log.level", "%v", err)
		}
	}
	if c.Syslog != nil && c.Syslog.Enabled && c.Syslog.Host == "" {
		add("syslog.host", "required when enabled")
	}
	if c.Poll != nil {
		if d, err := time.ParseDuration(c.Poll.Interval); err != nil || d <= 0 {
			add("poll.interval", "invalid duration %q", c.Poll.Interval)
		}
	}
	if c.FS != nil {
		for i, dir := range c.FS.Allow {
			if !filepath.IsAbs(dir) {
				add(fmt.Sprintf("fs.allow[%d]", i), "must be absolute")
			}
		}
	}
	if c.Auth != nil {
		if d, err := time.ParseDuration(c.Auth.SessionTTL); err != nil || d <= 0 {
			add("auth.session_ttl", "invalid duration %q", c.Auth.SessionTTL)
		}
	}

	seen := map[string]bool{}
	for _, u := range c.Users {
		field := "user." + u.Name
		if !uci.ValidName(u.Name) {
			add(field, "invalid user name")
		}
		if seen[u.Name] {
			add(field, "duplicate user")
		}
		seen[u.Name] = true
		if !strings.HasPrefix(u.Hash, "$2") {
			add(field+".hash", "must be a bcrypt hash")
		}
		switch u.Role {
		case "", "admin", "viewer":
		default:
			add(field+".role", "must be \"admin\" or \"viewer\"")
		}
	}
	return errs
}
