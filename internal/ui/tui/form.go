// Package tui renders views in the terminal: maps become huh forms, status
// tables and logs become bubbletea programs that refresh themselves.
package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/i18n"
)

// ErrNothingToEdit is returned by Edit for maps without writable fields.
var ErrNothingToEdit = errors.New("nothing to edit")

// binding ties one rendered field to the variable its huh field writes.
type binding struct {
	field form.Field
	str   *string
	on    *bool
	list  *[]string
}

// Bindings collects what the user entered into a form built by BuildForm.
type Bindings struct {
	fields []binding
}

// BuildForm turns a rendered map into a huh form with one group per record.
// Hidden and invisible fields are left out, read-only fields become notes.
// It returns a nil form when no record has a field to show.
func BuildForm(ctx context.Context, v *form.View) (*huh.Form, *Bindings) {
	b := &Bindings{}
	var groups []*huh.Group

	for _, s := range v.Sections {
		for i, r := range s.Rows {
			var fields []huh.Field
			for _, f := range r.Fields {
				if !f.Visible || f.Widget == form.HiddenValue {
					continue
				}
				if field := b.add(ctx, f); field != nil {
					fields = append(fields, field)
				}
			}
			if len(fields) == 0 {
				continue
			}
			groups = append(groups, huh.NewGroup(fields...).
				Title(groupTitle(v, s, r, i)).
				Description(s.Description))
		}
	}
	if len(groups) == 0 {
		return nil, b
	}
	return huh.NewForm(groups...).WithTheme(huh.ThemeBase16()), b
}

func groupTitle(v *form.View, s form.SectionView, r form.Row, i int) string {
	title := s.Title
	if title == "" {
		title = v.Title
	}
	switch {
	case r.New:
		return fmt.Sprintf("%s (new)", title)
	case !s.Anonymous:
		return fmt.Sprintf("%s: %s", title, r.SID)
	case len(s.Rows) > 1:
		return fmt.Sprintf("%s #%d", title, i+1)
	}
	return title
}

func describe(f form.Field) string {
	d := f.Description
	if f.Error != "" {
		if d != "" {
			d += "\n"
		}
		d += StyleError.Render(f.Error)
	}
	return d
}

func (b *Bindings) add(ctx context.Context, f form.Field) huh.Field {
	if f.ReadOnly {
		value := f.Value
		if value == "" {
			value = "-"
		}
		return huh.NewNote().Title(f.Title).Description(value)
	}

	bd := binding{field: f}
	var field huh.Field
	switch f.Widget {
	case form.Flag:
		on := f.Checked()
		bd.on = &on
		field = huh.NewConfirm().
			Key(f.ID).
			Title(f.Title).
			Description(describe(f)).
			Affirmative("On").
			Negative("Off").
			Value(&on)

	case form.ListValue:
		s := f.Value
		bd.str = &s
		field = huh.NewSelect[string]().
			Key(f.ID).
			Title(f.Title).
			Description(describe(f)).
			Options(choices(f, !f.Required)...).
			Value(&s).
			Validate(checkOne(ctx, f))

	case form.MultiValue:
		vals := slices.Clone(f.Values)
		bd.list = &vals
		field = huh.NewMultiSelect[string]().
			Key(f.ID).
			Title(f.Title).
			Description(describe(f)).
			Options(choices(f, false)...).
			Value(&vals).
			Validate(checkList(ctx, f))

	case form.DynamicList:
		s := strings.Join(f.Values, "\n")
		bd.str = &s
		field = huh.NewText().
			Key(f.ID).
			Title(f.Title).
			Description(describe(f)).
			Placeholder("one entry per line").
			Lines(4).
			Value(&s).
			Validate(func(s string) error { return checkList(ctx, f)(lines(s)) })

	case form.TextValue:
		s := f.Value
		bd.str = &s
		rows := f.Rows
		if rows <= 0 {
			rows = 5
		}
		field = huh.NewText().
			Key(f.ID).
			Title(f.Title).
			Description(describe(f)).
			Placeholder(f.Placeholder).
			Lines(rows).
			Value(&s).
			Validate(checkOne(ctx, f))

	default:
		s := f.Value
		bd.str = &s
		placeholder := f.Placeholder
		if placeholder == "" {
			placeholder = f.Default
		}
		field = huh.NewInput().
			Key(f.ID).
			Title(f.Title).
			Description(describe(f)).
			Placeholder(placeholder).
			Value(&s).
			Validate(checkOne(ctx, f))
	}
	b.fields = append(b.fields, bd)
	return field
}

func choices(f form.Field, none bool) []huh.Option[string] {
	var opts []huh.Option[string]
	if none {
		opts = append(opts, huh.NewOption("-", ""))
	}
	known := false
	for _, c := range f.Choices {
		label := c.Label
		if label == "" {
			label = c.Value
		}
		opts = append(opts, huh.NewOption(label, c.Value))
		if c.Value == f.Value {
			known = true
		}
	}
	// Keep a stored value that is not among the choices selectable.
	if !known && f.Value != "" && !f.Widget.Multiple() {
		opts = append(opts, huh.NewOption(f.Value, f.Value))
	}
	return opts
}

func checkOne(ctx context.Context, f form.Field) func(string) error {
	return func(s string) error {
		if s == "" {
			if f.Required {
				return errors.New(i18n.T(ctx, i18n.MsgRequired))
			}
			return nil
		}
		if f.Datatype != "" {
			return datatype.Check(f.Datatype, s)
		}
		return nil
	}
}

func checkList(ctx context.Context, f form.Field) func([]string) error {
	return func(vals []string) error {
		if len(vals) == 0 && f.Required {
			return errors.New(i18n.T(ctx, i18n.MsgRequired))
		}
		if f.Datatype == "" {
			return nil
		}
		for _, v := range vals {
			if err := datatype.Check(f.Datatype, v); err != nil {
				return err
			}
		}
		return nil
	}
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Input returns the changed fields as form input for Map.Parse. Unchanged
// fields are left out so their stored or default values stay untouched.
func (b *Bindings) Input() map[string][]string {
	in := make(map[string][]string)
	for _, bd := range b.fields {
		f := bd.field
		switch f.Widget {
		case form.Flag:
			if *bd.on == f.Checked() {
				continue
			}
			if *bd.on {
				in[f.ID] = []string{f.Enabled}
			} else {
				in["cbi.cbe."+strings.TrimPrefix(f.ID, "cbid.")] = []string{""}
			}
		case form.MultiValue:
			if slices.Equal(*bd.list, f.Values) {
				continue
			}
			in[f.ID] = slices.Clone(*bd.list)
		case form.DynamicList:
			vals := lines(*bd.str)
			if slices.Equal(vals, f.Values) {
				continue
			}
			in[f.ID] = vals
		default:
			if *bd.str == f.Value {
				continue
			}
			in[f.ID] = []string{*bd.str}
		}
	}
	return in
}

// Runner runs a built form to completion. The form writes into b.
type Runner func(ctx context.Context, f *huh.Form, b *Bindings) error

// RunForm runs the form on the terminal.
func RunForm(ctx context.Context, f *huh.Form, _ *Bindings) error {
	return f.RunWithContext(ctx)
}

// Edit lets the user edit a map until it saves. A change that reveals or
// hides dependent fields shows the form again before saving, and a save
// rejected by validation shows it again with the errors.
func Edit(ctx context.Context, m *form.Map, sess *form.Session, run Runner) error {
	if run == nil {
		run = RunForm
	}
	for {
		v, err := m.Render(ctx, sess)
		if err != nil {
			return err
		}
		f, b := BuildForm(ctx, v)
		if f == nil {
			return ErrNothingToEdit
		}
		if err := run(ctx, f, b); err != nil {
			return err
		}
		if err := m.Parse(sess, b.Input()); err != nil {
			return err
		}

		after, err := m.Render(ctx, sess)
		if err != nil {
			return err
		}
		if !slices.Equal(shown(v), shown(after)) {
			continue
		}

		err = m.Save(ctx, sess)
		var verrs form.ValidationErrors
		if errors.As(err, &verrs) {
			continue
		}
		return err
	}
}

// shown lists the ids of the fields BuildForm would show.
func shown(v *form.View) []string {
	var ids []string
	for _, s := range v.Sections {
		for _, r := range s.Rows {
			for _, f := range r.Fields {
				if f.Visible && f.Widget != form.HiddenValue {
					ids = append(ids, f.ID)
				}
			}
		}
	}
	return ids
}
