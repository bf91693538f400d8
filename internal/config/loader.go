package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"grimm.is/luci/internal/brand"
)

// EnvFunc is the HCL function env(name).
var EnvFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// EvalContext returns the variables and functions available to config
// and view files.
func EvalContext() *hcl.EvalContext {
	hostname, _ := os.Hostname()
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"prefix":    cty.StringVal(os.Getenv(brand.ConfigEnvPrefix + "_PREFIX")),
			"state_dir": cty.StringVal(brand.GetStateDir()),
			"run_dir":   cty.StringVal(brand.GetRunDir()),
			"hostname":  cty.StringVal(hostname),
			"brand":     cty.StringVal(brand.Name),
		},
		Functions: map[string]function.Function{
			"env": EnvFunc,
		},
	}
}

// LoadFile reads, decodes, overrides, defaults and validates a config file.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			if err := finish(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	name := path
	if !strings.HasSuffix(name, ".hcl") && !strings.HasSuffix(name, ".json") {
		name += ".hcl"
	}
	return Load(data, name)
}

// Load decodes HCL (or JSON for a .json filename) from data.
func Load(data []byte, filename string) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, EvalContext(), &cfg); err != nil {
		return nil, fmt.Errorf("HCL parse error: %w", err)
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config) error {
	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return errs
	}
	return nil
}

// ApplyEnv overrides fields from LUCI_* environment variables.
func ApplyEnv(cfg *Config) error {
	env := func(name string) (string, bool) {
		return os.LookupEnv(brand.ConfigEnvPrefix + "_" + name)
	}
	if v, ok := env("LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := env("BACKEND"); ok {
		cfg.Backend = v
	}
	if v, ok := env("VIEWS_DIR"); ok {
		cfg.ViewsDir = v
	}
	if v, ok := env("AUDIT_PATH"); ok {
		cfg.AuditPath = v
	}
	if v, ok := env("LOG_LEVEL"); ok {
		if cfg.Log == nil {
			cfg.Log = &LogConfig{}
		}
		cfg.Log.Level = v
	}
	if v, ok := env("LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s_LOG_JSON: %w", brand.ConfigEnvPrefix, err)
		}
		if cfg.Log == nil {
			cfg.Log = &LogConfig{}
		}
		cfg.Log.JSON = b
	}
	if v, ok := env("POLL_INTERVAL"); ok {
		cfg.Poll = &PollConfig{Interval: v}
	}
	if v, ok := env("AUTH_REQUIRE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s_AUTH_REQUIRE: %w", brand.ConfigEnvPrefix, err)
		}
		if cfg.Auth == nil {
			cfg.Auth = &AuthConfig{}
		}
		cfg.Auth.Require = &b
	}
	return nil
}

// GenerateHCL renders cfg as HCL.
func GenerateHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(cfg, f.Body())
	return hclwrite.Format(f.Bytes())
}

// SaveFile writes cfg as HCL.
func SaveFile(cfg *Config, path string) error {
	if err := os.WriteFile(path, GenerateHCL(cfg), 0644); err != nil {
		return fmt.Errorf("failed to write HCL file: %w", err)
	}
	return nil
}
