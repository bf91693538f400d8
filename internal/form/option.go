package form

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/i18n"
)

// Widget selects how an option is rendered and parsed.
type Widget string

const (
	Value       Widget = "value"
	Flag        Widget = "flag"
	ListValue   Widget = "list"
	MultiValue  Widget = "multi"
	DynamicList Widget = "dynlist"
	DummyValue  Widget = "dummy"
	TextValue   Widget = "text"
	HiddenValue Widget = "hidden"
)

var widgets = []Widget{Value, Flag, ListValue, MultiValue, DynamicList, DummyValue, TextValue, HiddenValue}

// ParseWidget resolves a widget name as written in view files.
func ParseWidget(s string) (Widget, error) {
	w := Widget(strings.ToLower(s))
	if slices.Contains(widgets, w) {
		return w, nil
	}
	return "", fmt.Errorf("unknown widget %q", s)
}

// Multiple reports whether the widget holds a list of values.
func (w Widget) Multiple() bool {
	return w == MultiValue || w == DynamicList
}

// Choice is one entry of a ListValue or MultiValue.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var errRequired = errors.New(i18n.MsgRequired)

// Option is one field of a section.
type Option struct {
	Widget      Widget
	Name        string
	Title       string
	Description string
	Datatype    string
	Default     string // lists: whitespace separated
	Placeholder string
	Optional    bool
	Rmempty     bool
	ReadOnly    bool
	Ucioption   string
	Depends     Dependencies
	Validate    func(sid, value string) error
	Choices     []Choice

	// Flag values; "1" and "0" unless set.
	Enabled  string
	Disabled string

	// Rows is the height of a TextValue.
	Rows int

	// Cfgvalue computes the displayed value of a DummyValue.
	Cfgvalue func(sid string, rec map[string]string) string

	section *Section
}

// Value appends a choice.
func (o *Option) Value(value, label string) *Option {
	if label == "" {
		label = value
	}
	o.Choices = append(o.Choices, Choice{Value: value, Label: label})
	return o
}

// Depend adds an alternative to the visibility condition.
func (o *Option) Depend(dep Dependency) *Option {
	o.Depends = append(o.Depends, dep)
	return o
}

// DependOn is shorthand for a single key alternative.
func (o *Option) DependOn(option, value string) *Option {
	return o.Depend(Dependency{option: value})
}

// Key is the option name in the store.
func (o *Option) Key() string {
	if o.Ucioption != "" {
		return o.Ucioption
	}
	return o.Name
}

// ID is the form field key: cbid.<config>.<sid>.<option>.
func (o *Option) ID(sid string) string {
	return "cbid." + o.section.config() + "." + sid + "." + o.Name
}

func (o *Option) writable() bool {
	return o.Widget != DummyValue && !o.ReadOnly
}

// required options reject empty values.
func (o *Option) required() bool {
	return !o.Optional && !o.Rmempty
}

func (o *Option) enabled() string {
	if o.Enabled == "" {
		return "1"
	}
	return o.Enabled
}

func (o *Option) disabled() string {
	if o.Disabled == "" {
		return "0"
	}
	return o.Disabled
}

func (o *Option) defaults() []string {
	if o.Widget == Flag && o.Default == "" {
		return []string{o.disabled()}
	}
	if o.Widget.Multiple() {
		return strings.Fields(o.Default)
	}
	if o.Default == "" {
		return nil
	}
	return []string{o.Default}
}

// normalize trims submitted values to the widget's shape.
func (o *Option) normalize(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	if !o.Widget.Multiple() && len(out) > 1 {
		out = out[:1]
	}
	return out
}

// check validates the current values of the option in record sid.
func (o *Option) check(sid string, vals []string) error {
	if isEmpty(vals) {
		if o.required() {
			return errRequired
		}
		return nil
	}
	if o.Widget == Flag && vals[0] != o.enabled() && vals[0] != o.disabled() {
		return &datatype.Error{Value: vals[0], Expect: fmt.Sprintf("%q or %q", o.enabled(), o.disabled())}
	}
	for _, v := range vals {
		if o.Datatype != "" {
			if err := datatype.Check(o.Datatype, v); err != nil {
				return err
			}
		}
		if o.Validate != nil {
			if err := o.Validate(sid, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func isEmpty(vals []string) bool {
	for _, v := range vals {
		if v != "" {
			return false
		}
	}
	return true
}
