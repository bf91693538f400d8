package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/huh"

	"grimm.is/luci/internal/config"
	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/server"
	"grimm.is/luci/internal/ui/tui"
)

// RunEdit handles the "edit" command: the form of a view in the terminal.
// It writes through the configured backend and asks a running daemon to
// reload the packages it saved.
func RunEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	var t Target
	t.flags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: edit <view>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = i18n.WithPrinter(ctx, Printer)

	cfg, err := config.LoadFile(t.ConfigFile)
	if err != nil {
		return err
	}
	s, err := server.New(ctx, server.Options{Config: cfg, Logger: quietLogger()})
	if err != nil {
		return err
	}
	defer s.Close()

	v, ok := s.Views().Get(fs.Arg(0))
	if !ok {
		return fmt.Errorf("view %q not found", fs.Arg(0))
	}
	if v.Map == nil {
		return fmt.Errorf("view %q is a %s view, use logread", v.Name, v.Kind())
	}
	m, err := v.BuildMap(s.Store())
	if err != nil {
		return err
	}
	if err := m.Load(ctx); err != nil {
		return err
	}

	err = tui.Edit(ctx, m, form.NewSession(v.Name), tui.RunForm)
	switch {
	case errors.Is(err, huh.ErrUserAborted):
		Printer.Fprintln(stdout, "Aborted.")
		return nil
	case errors.Is(err, tui.ErrNothingToEdit):
		Printer.Fprintf(stdout, "%s has nothing to edit.\n", v.Title)
		return nil
	case err != nil:
		return err
	}
	Printer.Fprintf(stdout, "%s saved.\n", v.Title)
	notifyReload(ctx, cfg.SocketPath, m.Packages())
	return nil
}

// notifyReload tells a running daemon to drop its cached copies of pkgs.
func notifyReload(ctx context.Context, socket string, pkgs []string) {
	client, err := rpc.Dial(socket)
	if err != nil {
		return
	}
	defer client.Close()
	for _, pkg := range pkgs {
		if _, err := client.Call(ctx, "uci", "reload", rpc.Args{"config": pkg}); err != nil {
			Printer.Fprintf(os.Stderr, "Warning: daemon did not reload %s: %v\n", pkg, err)
		}
	}
}
