// Package config loads the daemon configuration.
//
// The file is HCL (default /etc/luci/luci.hcl). Expressions may use the
// variables prefix, state_dir, run_dir and hostname and the function
// env(name). Values from the environment (LUCI_*) override the file.
package config

import (
	"path/filepath"
	"time"

	"grimm.is/luci/internal/brand"
)

// Config is the daemon configuration.
type Config struct {
	// HTTP listen address (default :8080)
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
	// Directory holding UCI packages (default /etc/config)
	ConfigDir string `hcl:"config_dir,optional" json:"config_dir,omitempty"`
	// Commit backend: "file" writes /etc/config directly, "sqlite" keeps a
	// revision history and exports to ConfigDir.
	Backend    string `hcl:"backend,optional" json:"backend,omitempty"`
	StatePath  string `hcl:"state_path,optional" json:"state_path,omitempty"`
	SocketPath string `hcl:"socket_path,optional" json:"socket_path,omitempty"`
	ViewsDir   string `hcl:"views_dir,optional" json:"views_dir,omitempty"`
	// Audit trail database; empty disables the trail.
	AuditPath string `hcl:"audit_path,optional" json:"audit_path,omitempty"`
	// Maximum concurrent HTTP connections (0 = unlimited)
	MaxConns int `hcl:"max_conns,optional" json:"max_conns,omitempty"`

	Log    *LogConfig    `hcl:"log,block" json:"log,omitempty"`
	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
	Poll   *PollConfig   `hcl:"poll,block" json:"poll,omitempty"`
	FS     *FSConfig     `hcl:"fs,block" json:"fs,omitempty"`
	Auth   *AuthConfig   `hcl:"auth,block" json:"auth,omitempty"`
	Users  []UserConfig  `hcl:"user,block" json:"users,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty"` // debug, info, warn, error
	JSON  bool   `hcl:"json,optional" json:"json,omitempty"`
}

// SyslogConfig forwards log records to a remote syslog server.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled,omitempty"`
	Host     string `hcl:"host" json:"host"`
	Port     int    `hcl:"port,optional" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	Tag      string `hcl:"tag,optional" json:"tag,omitempty"`
	Facility int    `hcl:"facility,optional" json:"facility,omitempty"`
}

// PollConfig sets the refresh period of log and status views.
type PollConfig struct {
	Interval string `hcl:"interval,optional" json:"interval,omitempty"` // e.g. "5s"
}

// FSConfig restricts the file RPC object.
type FSConfig struct {
	Allow   []string `hcl:"allow,optional" json:"allow,omitempty"`
	Exec    []string `hcl:"exec,optional" json:"exec,omitempty"`
	MaxRead int64    `hcl:"max_read,optional" json:"max_read,omitempty"`
}

// AuthConfig configures login.
type AuthConfig struct {
	Require    *bool  `hcl:"require,optional" json:"require,omitempty"` // default true
	SessionTTL string `hcl:"session_ttl,optional" json:"session_ttl,omitempty"`
	UsersFile  string `hcl:"users_file,optional" json:"users_file,omitempty"`
}

// UserConfig declares a login with a bcrypt hash.
type UserConfig struct {
	Name string `hcl:"name,label" json:"name"`
	Hash string `hcl:"hash" json:"hash"`
	Role string `hcl:"role,optional" json:"role,omitempty"`
}

// Defaults
const (
	DefaultListen       = ":8080"
	DefaultBackend      = "file"
	DefaultPollInterval = 5 * time.Second
	DefaultSessionTTL   = 5 * time.Minute
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ConfigDir == "" {
		c.ConfigDir = brand.GetUCIDir()
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.StatePath == "" {
		c.StatePath = filepath.Join(brand.GetStateDir(), "config.db")
	}
	if c.SocketPath == "" {
		c.SocketPath = brand.GetSocketPath()
	}
	if c.ViewsDir == "" {
		c.ViewsDir = brand.GetViewsDir()
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Poll == nil {
		c.Poll = &PollConfig{}
	}
	if c.Poll.Interval == "" {
		c.Poll.Interval = DefaultPollInterval.String()
	}
	if c.FS == nil {
		c.FS = &FSConfig{}
	}
	if len(c.FS.Allow) == 0 {
		c.FS.Allow = []string{c.ConfigDir, brand.GetConfigDir(), brand.GetLogDir(), "/proc", "/sys/class/net", "/tmp"}
	}
	if len(c.FS.Exec) == 0 {
		c.FS.Exec = []string{"/sbin/logread", "/bin/dmesg"}
	}
	if c.Auth == nil {
		c.Auth = &AuthConfig{}
	}
	if c.Auth.Require == nil {
		require := true
		c.Auth.Require = &require
	}
	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL.String()
	}
	if c.Auth.UsersFile == "" {
		c.Auth.UsersFile = filepath.Join(brand.GetStateDir(), "users.json")
	}
}

// PollInterval returns the parsed poll interval.
func (c *Config) PollInterval() time.Duration {
	if c.Poll == nil {
		return DefaultPollInterval
	}
	d, err := time.ParseDuration(c.Poll.Interval)
	if err != nil || d <= 0 {
		return DefaultPollInterval
	}
	return d
}

// SessionTTL returns the parsed session lifetime.
func (c *Config) SessionTTL() time.Duration {
	if c.Auth == nil {
		return DefaultSessionTTL
	}
	d, err := time.ParseDuration(c.Auth.SessionTTL)
	if err != nil || d <= 0 {
		return DefaultSessionTTL
	}
	return d
}

// RequireAuth reports whether login is enforced.
func (c *Config) RequireAuth() bool {
	return c.Auth == nil || c.Auth.Require == nil || *c.Auth.Require
}
