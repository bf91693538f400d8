package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
)

// RunUCI handles the "uci" command.
func RunUCI(args []string) error {
	fs := flag.NewFlagSet("uci", flag.ContinueOnError)
	var t Target
	t.flags(fs)
	format := fs.String("format", "uci", "Export format: uci, json, yaml")
	fs.StringVar(format, "f", "uci", "Export format (short)")
	fs.Usage = func() { printUCIUsage(fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printUCIUsage(fs)
		return errors.New("missing command")
	}

	ctx := context.Background()
	c, err := connect(ctx, t)
	if err != nil {
		return err
	}
	defer c.Close()
	return runUCI(ctx, c, fs.Arg(0), fs.Args()[1:], uci.ExportFormat(*format))
}

func printUCIUsage(fs *flag.FlagSet) {
	Printer.Fprintf(os.Stderr, "Usage: %s uci [options] <command> [arguments]\n\n", brand.BinaryName)
	Printer.Fprintf(os.Stderr, "Commands:\n")
	Printer.Fprintf(os.Stderr, "  show     [<config>[.<section>]]\n")
	Printer.Fprintf(os.Stderr, "  get      <config>.<section>[.<option>]\n")
	Printer.Fprintf(os.Stderr, "  set      <config>.<section>[.<option>]=<value>\n")
	Printer.Fprintf(os.Stderr, "  add      <config> <section-type>\n")
	Printer.Fprintf(os.Stderr, "  delete   <config>.<section>[.<option>]\n")
	Printer.Fprintf(os.Stderr, "  commit   [<config>]\n")
	Printer.Fprintf(os.Stderr, "  revert   <config>\n")
	Printer.Fprintf(os.Stderr, "  changes  [<config>]\n")
	Printer.Fprintf(os.Stderr, "  export   <config>\n")
	Printer.Fprintf(os.Stderr, "  diff     <config>\n\n")
	Printer.Fprintf(os.Stderr, "Options:\n")
	fs.PrintDefaults()
}

// path is a parsed config.section.option reference.
type path struct {
	Config, Section, Option string
}

func parsePath(s string) (path, error) {
	parts := strings.SplitN(s, ".", 3)
	p := path{Config: parts[0]}
	if len(parts) > 1 {
		p.Section = parts[1]
	}
	if len(parts) > 2 {
		p.Option = parts[2]
	}
	if !uci.ValidName(p.Config) {
		return p, fmt.Errorf("invalid config name %q", p.Config)
	}
	return p, nil
}

func runUCI(ctx context.Context, c *conn, command string, args []string, format uci.ExportFormat) error {
	arg := func(i int) (string, error) {
		if i >= len(args) {
			return "", fmt.Errorf("%s: missing argument", command)
		}
		return args[i], nil
	}

	switch command {
	case "show":
		return uciShow(ctx, c, args)

	case "get":
		a, err := arg(0)
		if err != nil {
			return err
		}
		p, err := parsePath(a)
		if err != nil {
			return err
		}
		if p.Section == "" {
			return fmt.Errorf("get: section required")
		}
		return uciGet(ctx, c, p)

	case "set":
		a, err := arg(0)
		if err != nil {
			return err
		}
		ref, value, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("set: expected <config>.<section>[.<option>]=<value>")
		}
		p, err := parsePath(ref)
		if err != nil {
			return err
		}
		if p.Section == "" {
			return fmt.Errorf("set: section required")
		}
		if p.Option == "" {
			_, err = c.Call(ctx, "uci", "add", rpc.Args{"config": p.Config, "type": value, "name": p.Section})
		} else {
			_, err = c.Call(ctx, "uci", "set", rpc.Args{
				"config":  p.Config,
				"section": p.Section,
				"values":  map[string]any{p.Option: value},
			})
		}
		if err != nil {
			return err
		}
		return autoCommit(ctx, c, p.Config)

	case "add":
		cfgName, err := arg(0)
		if err != nil {
			return err
		}
		typ, err := arg(1)
		if err != nil {
			return err
		}
		res, err := c.Call(ctx, "uci", "add", rpc.Args{"config": cfgName, "type": typ})
		if err != nil {
			return err
		}
		var out struct {
			Section string `json:"section"`
		}
		if err := decode(res, &out); err != nil {
			return err
		}
		Printer.Fprintln(stdout, out.Section)
		return autoCommit(ctx, c, cfgName)

	case "delete":
		a, err := arg(0)
		if err != nil {
			return err
		}
		p, err := parsePath(a)
		if err != nil {
			return err
		}
		if p.Section == "" {
			return fmt.Errorf("delete: section required")
		}
		req := rpc.Args{"config": p.Config, "section": p.Section}
		if p.Option != "" {
			req["option"] = p.Option
		}
		if _, err := c.Call(ctx, "uci", "delete", req); err != nil {
			return err
		}
		return autoCommit(ctx, c, p.Config)

	case "commit":
		names := args
		if len(names) == 0 {
			changes, err := uciChanges(ctx, c, "")
			if err != nil {
				return err
			}
			for name := range changes {
				names = append(names, name)
			}
			slices.Sort(names)
		}
		for _, name := range names {
			if _, err := c.Call(ctx, "uci", "commit", rpc.Args{"config": name}); err != nil {
				return err
			}
		}
		return nil

	case "revert":
		name, err := arg(0)
		if err != nil {
			return err
		}
		_, err = c.Call(ctx, "uci", "revert", rpc.Args{"config": name})
		return err

	case "changes":
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		changes, err := uciChanges(ctx, c, name)
		if err != nil {
			return err
		}
		for _, pkg := range sortedKeys(changes) {
			for _, line := range changes[pkg] {
				Printer.Fprintln(stdout, line)
			}
		}
		return nil

	case "export":
		name, err := arg(0)
		if err != nil {
			return err
		}
		data, err := uciExport(ctx, c, name, format)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, data)
		return nil

	case "diff":
		name, err := arg(0)
		if err != nil {
			return err
		}
		res, err := c.Call(ctx, "uci", "diff", rpc.Args{"config": name})
		if err != nil {
			return err
		}
		var out struct {
			Diff string `json:"diff"`
		}
		if err := decode(res, &out); err != nil {
			return err
		}
		if out.Diff == "" {
			Printer.Fprintln(stdout, "No changes.")
			return nil
		}
		fmt.Fprint(stdout, out.Diff)
		return nil
	}
	return fmt.Errorf("unknown uci command %q", command)
}

// autoCommit commits right away when the bus lives in this process, since
// staged changes would be lost on exit.
func autoCommit(ctx context.Context, c *conn, name string) error {
	if !c.Local {
		return nil
	}
	_, err := c.Call(ctx, "uci", "commit", rpc.Args{"config": name})
	return err
}

func uciExport(ctx context.Context, c *conn, name string, format uci.ExportFormat) (string, error) {
	res, err := c.Call(ctx, "uci", "export", rpc.Args{"config": name, "format": string(format)})
	if err != nil {
		return "", err
	}
	var out struct {
		Data string `json:"data"`
	}
	if err := decode(res, &out); err != nil {
		return "", err
	}
	return out.Data, nil
}

func uciChanges(ctx context.Context, c *conn, name string) (map[string][]string, error) {
	req := rpc.Args{}
	if name != "" {
		req["config"] = name
	}
	res, err := c.Call(ctx, "uci", "changes", req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Changes map[string][]string `json:"changes"`
	}
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return out.Changes, nil
}

func uciShow(ctx context.Context, c *conn, args []string) error {
	var names []string
	section := ""
	if len(args) > 0 {
		p, err := parsePath(args[0])
		if err != nil {
			return err
		}
		names = []string{p.Config}
		section = p.Section
	} else {
		res, err := c.Call(ctx, "uci", "configs", nil)
		if err != nil {
			return err
		}
		var out struct {
			Configs []string `json:"configs"`
		}
		if err := decode(res, &out); err != nil {
			return err
		}
		names = out.Configs
	}

	for _, name := range names {
		text, err := uciExport(ctx, c, name, uci.ExportUCI)
		if err != nil {
			return err
		}
		pkg, err := uci.ParseBytes(name, []byte(text))
		if err != nil {
			return err
		}
		if section != "" && strings.HasPrefix(section, "@") {
			if section, err = pkg.Resolve(section); err != nil {
				return err
			}
		}
		lines := uci.Show(pkg, section)
		if section != "" && len(lines) == 0 {
			return fmt.Errorf("section %s.%s not found", name, section)
		}
		for _, line := range lines {
			Printer.Fprintln(stdout, line)
		}
	}
	return nil
}

func uciGet(ctx context.Context, c *conn, p path) error {
	req := rpc.Args{"config": p.Config, "section": p.Section}
	if p.Option != "" {
		req["option"] = p.Option
	}
	res, err := c.Call(ctx, "uci", "get", req)
	if err != nil {
		return err
	}
	var out struct {
		Value  any            `json:"value"`
		Values map[string]any `json:"values"`
	}
	if err := decode(res, &out); err != nil {
		return err
	}
	if p.Option == "" {
		// Like uci get on a section: print its type.
		Printer.Fprintln(stdout, out.Values[".type"])
		return nil
	}
	switch v := out.Value.(type) {
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = uci.Quote(fmt.Sprint(item))
		}
		Printer.Fprintln(stdout, strings.Join(items, " "))
	default:
		Printer.Fprintln(stdout, v)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
