package views

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/uci"
)

var (
	templates = []string{"", form.TemplateNamed, form.TemplateTable, form.TemplateGrid}
	formats   = []string{"", "bytes", "ago", "bool"}
	sources   = []logging.SourceKind{logging.SourceApp, logging.SourceFile, logging.SourceCommand}
)

// Validate checks a view for errors a renderer would otherwise hit at
// request time: unknown widgets, malformed datatypes and filters,
// dangling dependencies.
func (v *View) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := datatype.ValidateIdentifier(v.Name); err != nil {
		add("name: %v", err)
	}
	if v.Title == "" {
		add("title is required")
	}
	if v.Menu != nil && v.Menu.Parent != "" {
		if err := datatype.ValidateIdentifier(v.Menu.Parent); err != nil {
			add("menu parent: %v", err)
		}
	}
	if v.Map == nil && v.Log == nil && len(v.Status) == 0 {
		add("view has no map, status or log block")
	}
	if v.Map != nil {
		errs = append(errs, v.Map.validate()...)
	}
	for _, s := range v.Status {
		errs = append(errs, s.validate()...)
	}
	if v.Log != nil {
		errs = append(errs, v.Log.validate()...)
	}
	return errors.Join(errs...)
}

func (m *MapDef) validate() []error {
	var errs []error
	if !uci.ValidName(m.Config) {
		errs = append(errs, fmt.Errorf("map %q: invalid package name", m.Config))
	}
	for _, c := range m.Chain {
		if !uci.ValidName(c) {
			errs = append(errs, fmt.Errorf("map %q: invalid chained package %q", m.Config, c))
		}
	}
	if len(m.Sections) == 0 {
		errs = append(errs, fmt.Errorf("map %q: no sections", m.Config))
	}
	for _, s := range m.Sections {
		for _, err := range s.validate() {
			errs = append(errs, fmt.Errorf("map %q: section %q: %w", m.Config, s.Type, err))
		}
	}
	return errs
}

func (s *SectionDef) validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !uci.ValidName(s.Type) {
		add("invalid section type")
	}
	switch s.Kind {
	case "", "typed":
	case "named":
		if !uci.ValidName(s.Name) {
			add("named section needs a valid name, got %q", s.Name)
		}
	default:
		add("unknown kind %q", s.Kind)
	}
	if s.Config != "" && !uci.ValidName(s.Config) {
		add("invalid package %q", s.Config)
	}
	if !slices.Contains(templates, s.Template) {
		add("unknown template %q", s.Template)
	}
	if s.MaxCount < 0 {
		add("max_count must not be negative")
	}
	for k := range s.Filter {
		if !uci.ValidName(k) {
			add("filter: invalid option name %q", k)
		}
	}

	names := make([]string, 0, len(s.Options))
	for _, o := range s.Options {
		if slices.Contains(names, o.Name) {
			add("option %q declared twice", o.Name)
		}
		names = append(names, o.Name)
	}
	for _, o := range s.Options {
		for _, err := range o.validate(names) {
			errs = append(errs, fmt.Errorf("option %q: %w", o.Name, err))
		}
	}
	return errs
}

func (o *OptionDef) validate(siblings []string) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !uci.ValidName(o.Name) {
		add("invalid option name")
	}
	if o.Ucioption != "" && !uci.ValidName(o.Ucioption) {
		add("invalid ucioption %q", o.Ucioption)
	}
	w := form.Value
	if o.Widget != "" {
		var err error
		if w, err = form.ParseWidget(o.Widget); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Datatype != "" {
		if _, err := datatype.Parse(o.Datatype); err != nil {
			errs = append(errs, err)
		} else if o.Default != "" && !w.Multiple() {
			if err := datatype.Check(o.Datatype, o.Default); err != nil {
				add("default %q: %v", o.Default, err)
			}
		}
	}
	if (w == form.ListValue || w == form.MultiValue) && len(o.Choices) == 0 {
		add("%s widget needs choices", w)
	}
	for k := range o.Labels {
		if !slices.Contains(o.Choices, k) {
			add("label for unknown choice %q", k)
		}
	}
	for _, dep := range o.Depends {
		for _, k := range (form.Dependencies{dep}).Keys() {
			if k == o.Name {
				add("depends on itself")
			} else if !slices.Contains(siblings, k) {
				add("depends on undeclared option %q", k)
			}
		}
	}
	return errs
}

func (s *StatusDef) validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("status %q: "+format, append([]any{s.Name}, args...)...))
	}
	if err := datatype.ValidateIdentifier(s.Name); err != nil {
		add("%v", err)
	}
	if s.Object == "" || s.Method == "" {
		add("object and method are required")
	}
	if s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			add("invalid interval %q", s.Interval)
		}
	}
	if len(s.Columns) == 0 {
		add("no columns")
	}
	for _, c := range s.Columns {
		if !slices.Contains(formats, c.Format) {
			add("column %q: unknown format %q", c.Key, c.Format)
		}
	}
	return errs
}

func (l *LogDef) validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("log: "+format, args...))
	}
	kind := logging.SourceKind(l.Source)
	if !slices.Contains(sources, kind) {
		add("unknown source %q", l.Source)
	}
	if kind == logging.SourceFile && !filepath.IsAbs(l.Path) {
		add("file source needs an absolute path, got %q", l.Path)
	}
	if kind == logging.SourceCommand && len(l.Command) == 0 {
		add("command source needs a command")
	}
	if l.Filter != "" {
		if _, err := regexp.Compile(l.Filter); err != nil {
			add("filter: %v", err)
		}
	}
	if l.Lines < 0 {
		add("lines must not be negative")
	}
	if l.Interval != "" {
		if d, err := time.ParseDuration(l.Interval); err != nil || d <= 0 {
			add("invalid interval %q", l.Interval)
		}
	}
	return errs
}
