package views

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
)

// BuildMap turns the view's map block into a form over store. The view
// must have a map.
func (v *View) BuildMap(store *uci.Store) (*form.Map, error) {
	if v.Map == nil {
		return nil, fmt.Errorf("view %q has no map", v.Name)
	}
	m := form.NewMap(store, v.Map.Config, v.Title, v.Description)
	m.Name = v.Name
	for _, c := range v.Map.Chain {
		m.Chain(c)
	}
	for _, sd := range v.Map.Sections {
		s := &form.Section{
			Kind:        form.Typed,
			Type:        sd.Type,
			Name:        sd.Name,
			Title:       sd.Title,
			Description: sd.Description,
			Config:      sd.Config,
			Template:    sd.Template,
			Anonymous:   sd.Anonymous,
			Addremove:   sd.Addremove,
			Sortable:    sd.Sortable,
			MaxCount:    sd.MaxCount,
		}
		if sd.Kind == "named" {
			s.Kind = form.Named
		}
		if len(sd.Filter) > 0 {
			s.Filter = recordFilter(maps.Clone(sd.Filter))
		}
		m.Section(s)

		for _, od := range sd.Options {
			w := form.Value
			if od.Widget != "" {
				var err error
				if w, err = form.ParseWidget(od.Widget); err != nil {
					return nil, fmt.Errorf("view %q: option %q: %w", v.Name, od.Name, err)
				}
			}
			o := s.Option(w, od.Name, od.Title)
			o.Description = od.Description
			o.Datatype = od.Datatype
			o.Default = od.Default
			o.Placeholder = od.Placeholder
			o.Optional = od.Optional
			if od.Rmempty != nil {
				o.Rmempty = *od.Rmempty
			}
			o.ReadOnly = od.ReadOnly
			o.Ucioption = od.Ucioption
			o.Enabled = od.Enabled
			o.Disabled = od.Disabled
			o.Rows = od.Rows
			for _, dep := range od.Depends {
				o.Depend(form.Dependency(maps.Clone(dep)))
			}
			for _, c := range od.Choices {
				o.Value(c, od.Labels[c])
			}
		}
	}
	return m, nil
}

func recordFilter(want map[string]string) func(string, map[string]string) bool {
	return func(_ string, rec map[string]string) bool {
		for k, v := range want {
			if neg, ok := strings.CutPrefix(v, "!"); ok {
				if rec[k] == neg {
					return false
				}
			} else if rec[k] != v {
				return false
			}
		}
		return true
	}
}

// Stub declares the table's RPC method on caller. Replies are shaped to a
// list; anything else becomes an empty table.
func (s *StatusDef) Stub(caller rpc.Caller) *rpc.Stub {
	return rpc.Declare(caller, rpc.Declaration{
		Object: s.Object,
		Method: s.Method,
		Expect: &rpc.Expect{Key: s.Expect, Default: []any{}},
	})
}

// Fetch calls the table's method with its configured arguments.
func (s *StatusDef) Fetch(ctx context.Context, caller rpc.Caller) (*Table, error) {
	args := rpc.Args{}
	for k, v := range s.Args {
		args[k] = v
	}
	res, err := s.Stub(caller).Call(ctx, args)
	if err != nil {
		return nil, err
	}
	return s.Table(res), nil
}

// Table is a rendered status table.
type Table struct {
	Name    string     `json:"name"`
	Title   string     `json:"title,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Table formats a shaped reply. Rows that are not objects are skipped.
func (s *StatusDef) Table(res any) *Table {
	t := &Table{Name: s.Name, Title: s.Title, Rows: [][]string{}}
	for _, c := range s.Columns {
		title := c.Title
		if title == "" {
			title = c.Key
		}
		t.Columns = append(t.Columns, title)
	}
	items, _ := res.([]any)
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			row[i] = format(obj[c.Key], c.Format)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func format(v any, how string) string {
	if v == nil {
		return "-"
	}
	switch how {
	case "bytes":
		if n, ok := number(v); ok {
			return humanize.IBytes(uint64(max(n, 0)))
		}
	case "ago":
		if n, ok := number(v); ok {
			if n <= 0 {
				return "never"
			}
			return humanize.Time(time.Unix(int64(n), 0))
		}
	case "bool":
		if b, ok := v.(bool); ok {
			if b {
				return "yes"
			}
			return "no"
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = format(e, "")
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		n, err := strconv.ParseFloat(x, 64)
		return n, err == nil
	}
	return 0, false
}
