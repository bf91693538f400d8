// Package views loads view definitions from HCL files. A view is one page
// of the interface: a configuration form over UCI packages, status tables
// filled by polling RPC methods, a log viewer, or a mix of these.
//
//	view "system" {
//	  title = "System"
//	  menu {
//	    parent = "system"
//	    order  = 10
//	  }
//	  map "system" {
//	    section "system" {
//	      anonymous = true
//	      option "hostname" {
//	        title    = "Hostname"
//	        datatype = "hostname"
//	      }
//	    }
//	  }
//	}
package views

import (
	"time"

	"grimm.is/luci/internal/logging"
)

// File is the top level of a view file.
type File struct {
	Views []*View `hcl:"view,block"`
}

// View is one page.
type View struct {
	Name        string       `hcl:"name,label"`
	Title       string       `hcl:"title"`
	Description string       `hcl:"description,optional"`
	Menu        *Menu        `hcl:"menu,block"`
	Map         *MapDef      `hcl:"map,block"`
	Status      []*StatusDef `hcl:"status,block"`
	Log         *LogDef      `hcl:"log,block"`

	// Source is the file the view was read from.
	Source string
}

// Kind describes what the view shows: "form", "status" or "log".
func (v *View) Kind() string {
	switch {
	case v.Map != nil:
		return "form"
	case v.Log != nil:
		return "log"
	}
	return "status"
}

// Menu places a view in the navigation tree.
type Menu struct {
	Parent string `hcl:"parent,optional"`
	Order  int    `hcl:"order,optional"`
	Icon   string `hcl:"icon,optional"`
}

// MapDef declares a form over a UCI package.
type MapDef struct {
	Config   string        `hcl:"config,label"`
	Chain    []string      `hcl:"chain,optional"`
	Sections []*SectionDef `hcl:"section,block"`
}

// SectionDef declares a form section.
type SectionDef struct {
	Type        string `hcl:"type,label"`
	Kind        string `hcl:"kind,optional"` // "typed" (default) or "named"
	Name        string `hcl:"name,optional"`
	Title       string `hcl:"title,optional"`
	Description string `hcl:"description,optional"`
	Config      string `hcl:"config,optional"`
	Template    string `hcl:"template,optional"`
	Anonymous   bool   `hcl:"anonymous,optional"`
	Addremove   bool   `hcl:"addremove,optional"`
	Sortable    bool   `hcl:"sortable,optional"`
	MaxCount    int    `hcl:"max_count,optional"`

	// Filter keeps records whose options equal the given values; a value
	// starting with "!" keeps records where the option differs.
	Filter map[string]string `hcl:"filter,optional"`

	Options []*OptionDef `hcl:"option,block"`
}

// OptionDef declares a form field.
type OptionDef struct {
	Name        string              `hcl:"name,label"`
	Widget      string              `hcl:"widget,optional"`
	Title       string              `hcl:"title,optional"`
	Description string              `hcl:"description,optional"`
	Datatype    string              `hcl:"datatype,optional"`
	Default     string              `hcl:"default,optional"`
	Placeholder string              `hcl:"placeholder,optional"`
	Optional    bool                `hcl:"optional,optional"`
	Rmempty     *bool               `hcl:"rmempty,optional"`
	ReadOnly    bool                `hcl:"readonly,optional"`
	Ucioption   string              `hcl:"ucioption,optional"`
	Depends     []map[string]string `hcl:"depends,optional"`
	Choices     []string            `hcl:"choices,optional"`
	Labels      map[string]string   `hcl:"labels,optional"`
	Enabled     string              `hcl:"enabled,optional"`
	Disabled    string              `hcl:"disabled,optional"`
	Rows        int                 `hcl:"rows,optional"`
}

// StatusDef declares a table filled from an RPC method on every poll.
type StatusDef struct {
	Name     string            `hcl:"name,label"`
	Title    string            `hcl:"title,optional"`
	Object   string            `hcl:"object"`
	Method   string            `hcl:"method"`
	Args     map[string]string `hcl:"args,optional"`
	Expect   string            `hcl:"expect,optional"`
	Interval string            `hcl:"interval,optional"`
	Columns  []*ColumnDef      `hcl:"column,block"`
}

// ColumnDef is one column of a status table.
type ColumnDef struct {
	Key    string `hcl:"key,label"`
	Title  string `hcl:"title,optional"`
	Format string `hcl:"format,optional"` // "", "bytes", "ago", "bool"
}

// LogDef declares a log viewer.
type LogDef struct {
	Source   string   `hcl:"source"` // "app", "file" or "command"
	Path     string   `hcl:"path,optional"`
	Command  []string `hcl:"command,optional"`
	Lines    int      `hcl:"lines,optional"`
	Filter   string   `hcl:"filter,optional"`
	Level    string   `hcl:"level,optional"`
	Interval string   `hcl:"interval,optional"`
}

// DefaultInterval is the poll interval of status tables and log views
// that do not set one.
const DefaultInterval = 5 * time.Second

func interval(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return DefaultInterval
}

// PollInterval returns the table's refresh interval.
func (s *StatusDef) PollInterval() time.Duration {
	return interval(s.Interval)
}

// PollInterval returns the viewer's refresh interval.
func (l *LogDef) PollInterval() time.Duration {
	return interval(l.Interval)
}

// LogSource returns the source to tail.
func (l *LogDef) LogSource() logging.Source {
	return logging.Source{Kind: logging.SourceKind(l.Source), Path: l.Path, Command: l.Command}
}

// TailOptions returns how much of the source to read.
func (l *LogDef) TailOptions() logging.TailOptions {
	return logging.TailOptions{Lines: l.Lines, Pattern: l.Filter, Level: l.Level}
}
