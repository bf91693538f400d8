package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/config"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/server"
)

// RunServe runs the daemon in the foreground until SIGINT or SIGTERM.
// A non-empty listen overrides the configured address.
func RunServe(configFile, listen string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logging.SetProcessName(brand.BinaryName)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.New(ctx, server.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("starting", "version", brand.Version, "config", configFile, "backend", cfg.Backend)
	return s.Run(ctx)
}

// newLogger builds the process logger from the log and syslog blocks.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	var out io.Writer = os.Stderr
	closeLog := func() {}
	if sc := cfg.Syslog; sc != nil && sc.Enabled {
		w, err := logging.NewSyslogWriter(logging.SyslogConfig{
			Enabled:  true,
			Host:     sc.Host,
			Port:     sc.Port,
			Protocol: sc.Protocol,
			Tag:      sc.Tag,
			Facility: sc.Facility,
		})
		if err != nil {
			return nil, nil, err
		}
		out = logging.MultiWriter(os.Stderr, w)
		closeLog = func() { w.Close() }
	}
	return logging.New(logging.Config{Level: level, Output: out, JSON: cfg.Log.JSON}), closeLog, nil
}
