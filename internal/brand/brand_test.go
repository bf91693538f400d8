package brand

import (
	"path/filepath"
	"testing"
)

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); ua != "luci/"+Version {
		t.Errorf("UserAgent() = %q", ua)
	}
}

func TestDirectories_Defaults(t *testing.T) {
	for _, env := range []string{"PREFIX", "UCI_DIR", "STATE_DIR", "RUN_DIR", "CONFIG_DIR"} {
		t.Setenv(ConfigEnvPrefix+"_"+env, "")
	}

	if got := GetUCIDir(); got != DefaultUCIDir {
		t.Errorf("GetUCIDir() = %q, want %q", got, DefaultUCIDir)
	}
	if got := GetStateDir(); got != DefaultStateDir {
		t.Errorf("GetStateDir() = %q, want %q", got, DefaultStateDir)
	}
	if got := GetSocketPath(); got != filepath.Join(DefaultRunDir, "luci-ubus.sock") {
		t.Errorf("GetSocketPath() = %q", got)
	}
}

func TestDirectories_Prefix(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/tmp/root")
	t.Setenv(ConfigEnvPrefix+"_UCI_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/srv/state")

	if got := GetUCIDir(); got != "/tmp/root/etc/config" {
		t.Errorf("GetUCIDir() = %q", got)
	}
	// Explicit variable wins over the prefix.
	if got := GetStateDir(); got != "/srv/state" {
		t.Errorf("GetStateDir() = %q", got)
	}
	if got := GetConfigFile(); got != "/tmp/root/etc/luci/luci.hcl" {
		t.Errorf("GetConfigFile() = %q", got)
	}
}
