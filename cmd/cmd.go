// Package cmd implements the luci subcommands.
package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/config"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/server"
)

// Printer is the localized printer for CLI output.
var Printer = i18n.NewCLIPrinter()

// stdout receives command output.
var stdout io.Writer = os.Stdout

// Target selects the bus a command talks to.
type Target struct {
	ConfigFile string
	// Remote is the URL of a /ubus endpoint; empty means this host.
	Remote   string
	User     string
	Password string
}

func (t *Target) flags(fs *flag.FlagSet) {
	fs.StringVar(&t.ConfigFile, "config", brand.GetConfigFile(), "Configuration file")
	fs.StringVar(&t.ConfigFile, "c", brand.GetConfigFile(), "Configuration file (short)")
	fs.StringVar(&t.Remote, "remote", "", "Remote /ubus URL (e.g. http://192.168.1.1/ubus)")
	fs.StringVar(&t.Remote, "r", "", "Remote /ubus URL (short)")
	fs.StringVar(&t.User, "user", "root", "Login for -remote")
}

// conn is an open bus connection. Local is set when no daemon was found
// and the bus lives in this process; staged changes then die with it.
type conn struct {
	rpc.Caller
	Local bool
	close func() error
}

func (c *conn) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// connect reaches the bus: the remote /ubus endpoint if one is given, else
// the daemon socket, else an in-process bus built from the configuration.
func connect(ctx context.Context, t Target) (*conn, error) {
	if t.Remote != "" {
		client := rpc.NewHTTPClient(t.Remote, nil)
		password := t.Password
		if password == "" {
			password = os.Getenv(brand.ConfigEnvPrefix + "_PASSWORD")
		}
		if password != "" {
			if err := client.Login(ctx, t.User, password); err != nil {
				return nil, fmt.Errorf("login to %s: %w", t.Remote, err)
			}
		}
		return &conn{Caller: client}, nil
	}

	cfg, err := config.LoadFile(t.ConfigFile)
	if err != nil {
		return nil, err
	}
	if client, err := rpc.Dial(cfg.SocketPath); err == nil {
		return &conn{Caller: client, close: client.Close}, nil
	}

	s, err := server.New(ctx, server.Options{Config: cfg, Logger: quietLogger()})
	if err != nil {
		return nil, err
	}
	return &conn{Caller: s.Bus(), Local: true, close: s.Close}, nil
}

// quietLogger keeps in-process servers from logging over command output.
func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelWarn, Output: os.Stderr})
}

// decode converts a call result into out. Results from the socket and
// HTTP transports are generic JSON; in-process results are Go values.
func decode(res any, out any) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
