package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"grimm.is/luci/internal/config"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/server"
	"grimm.is/luci/internal/ui"
	"grimm.is/luci/internal/ui/tui"
)

// RunLogread handles the "logread" command. Log views are followed in a
// scrolling viewer, status views are shown as refreshing tables.
func RunLogread(args []string) error {
	fs := flag.NewFlagSet("logread", flag.ContinueOnError)
	var t Target
	t.flags(fs)
	lines := fs.Int("lines", 200, "Number of entries to fetch")
	fs.IntVar(lines, "n", 200, "Number of entries (short)")
	plain := fs.Bool("plain", false, "Print the entries once instead of following")
	fs.BoolVar(plain, "p", false, "Print once (short)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: logread <view>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = i18n.WithPrinter(ctx, Printer)

	cfg, err := config.LoadFile(t.ConfigFile)
	if err != nil {
		return err
	}
	registry, err := server.LoadViews(cfg.ViewsDir)
	if err != nil {
		return err
	}
	v, ok := registry.Get(fs.Arg(0))
	if !ok {
		return fmt.Errorf("view %q not found", fs.Arg(0))
	}
	if v.Map != nil {
		return fmt.Errorf("view %q is a form, use edit", v.Name)
	}

	c, err := connect(ctx, t)
	if err != nil {
		return err
	}
	defer c.Close()

	switch {
	case v.Log == nil:
		return tui.RunStatus(ctx, v, c)
	case *plain:
		entries, err := ui.TailLog(ctx, c, v.Name, *lines)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "%s %s %s: %s\n", e.Timestamp.Format("Jan _2 15:04:05"), e.Level, e.Source, e.Message)
		}
		return nil
	}
	return tui.RunLog(ctx, v, c, *lines)
}
