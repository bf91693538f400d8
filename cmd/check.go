package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/views"
)

// RunCheck validates the view files of a directory.
func RunCheck(dir string, verbose bool) error {
	if len(dir) == 0 {
		return fmt.Errorf("usage: %s check [-v] <views-dir>\nExample: %s check -v %s", brand.BinaryName, brand.BinaryName, brand.DefaultViewsDir)
	}

	r, err := views.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("views invalid: %w", err)
	}

	all := r.All()
	kinds := make(map[string]int)
	for _, v := range all {
		kinds[v.Kind()]++
	}
	Printer.Fprintf(stdout, "Views valid!\n")
	Printer.Fprintf(stdout, "Forms: %d\n", kinds["form"])
	Printer.Fprintf(stdout, "Status: %d\n", kinds["status"])
	Printer.Fprintf(stdout, "Logs: %d\n", kinds["log"])

	if verbose {
		Printer.Fprintln(stdout)
		printViews(all)
	}
	return nil
}

func printViews(all []*views.View) {
	w := tabwriter.NewWriter(stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "VIEW\tKIND\tPARENT\tCONFIG\tSOURCE")
	for _, v := range all {
		parent, config := "-", "-"
		if v.Menu != nil && v.Menu.Parent != "" {
			parent = v.Menu.Parent
		}
		if v.Map != nil {
			config = strings.Join(append([]string{v.Map.Config}, v.Map.Chain...), ",")
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.Kind(), parent, config, v.Source)
	}
	w.Flush()
}
