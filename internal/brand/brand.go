// Package brand provides centralized naming and filesystem defaults.
//
// Every path the daemon touches by default is derived here so that a test,
// a chroot or a packaging script can relocate the whole tree with one
// environment variable (LUCI_PREFIX).
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name             = "LuCI"
	LowerName        = "luci"
	Description      = "Router configuration forms over UCI"
	ConfigEnvPrefix  = "LUCI"
	DefaultUCIDir    = "/etc/config"
	DefaultConfigDir = "/etc/luci"
	DefaultStateDir  = "/var/lib/luci"
	DefaultLogDir    = "/var/log"
	DefaultRunDir    = "/var/run"
	DefaultViewsDir  = "/usr/share/luci/views"
	SocketName       = "ubus.sock"
	BinaryName       = "luci"
	ConfigFileName   = "luci.hcl"
)

// Version is set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// UserAgent returns a User-Agent string for outgoing HTTP requests.
func UserAgent() string {
	return LowerName + "/" + Version
}

func fromEnv(suffix, prefixSub, fallback string) string {
	if dir := os.Getenv(ConfigEnvPrefix + "_" + suffix); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, prefixSub)
	}
	return fallback
}

// GetUCIDir returns the directory holding UCI packages.
// Priority: LUCI_UCI_DIR > LUCI_PREFIX/etc/config > /etc/config
func GetUCIDir() string {
	return fromEnv("UCI_DIR", "etc/config", DefaultUCIDir)
}

// GetConfigDir returns the directory holding the daemon configuration.
func GetConfigDir() string {
	return fromEnv("CONFIG_DIR", "etc/luci", DefaultConfigDir)
}

// GetStateDir returns the state directory (sqlite store, auth data).
func GetStateDir() string {
	return fromEnv("STATE_DIR", "state", DefaultStateDir)
}

// GetLogDir returns the directory searched for system logs.
func GetLogDir() string {
	return fromEnv("LOG_DIR", "log", DefaultLogDir)
}

// GetRunDir returns the runtime directory for sockets.
func GetRunDir() string {
	return fromEnv("RUN_DIR", "run", DefaultRunDir)
}

// GetViewsDir returns the directory scanned for HCL view definitions.
func GetViewsDir() string {
	return fromEnv("VIEWS_DIR", "views", DefaultViewsDir)
}

// GetSocketPath returns the full path of the local RPC socket,
// e.g. /var/run/luci-ubus.sock.
func GetSocketPath() string {
	return filepath.Join(GetRunDir(), LowerName+"-"+SocketName)
}

// GetConfigFile returns the default daemon configuration file path.
func GetConfigFile() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
