package uci

import (
	"context"
	"slices"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff between the committed and the staged text of
// pkg. It is empty when nothing is staged.
func (s *Store) Diff(ctx context.Context, pkg string) (string, error) {
	before, err := s.Committed(ctx, pkg)
	if err != nil {
		return "", err
	}
	after, err := s.Package(ctx, pkg)
	if err != nil {
		return "", err
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(Format(before))),
		B:        difflib.SplitLines(string(Format(after))),
		FromFile: "a/" + pkg,
		ToFile:   "b/" + pkg,
		Context:  3,
	})
}

// DiffChanges returns changes that turn before into after. Section order
// is not compared.
func DiffChanges(before, after *Package) []Change {
	var out []Change
	for _, b := range before.Sections {
		if after.index(b.Name) < 0 {
			out = append(out, Change{Op: OpDelete, Package: after.Name, Section: b.Name})
		}
	}
	for _, a := range after.Sections {
		b := before.Section(a.Name)
		switch {
		case b == nil && a.Anonymous:
			out = append(out, Change{Op: OpAdd, Package: after.Name, Section: a.Name, Type: a.Type, Anon: true})
			b = &Section{}
		case b == nil:
			out = append(out, Change{Op: OpSet, Package: after.Name, Section: a.Name, Type: a.Type})
			b = &Section{}
		case b.Type != a.Type:
			out = append(out, Change{Op: OpSet, Package: after.Name, Section: a.Name, Type: a.Type})
		}
		for _, o := range a.Options {
			v, ok := b.Get(o.Name)
			if ok && v.List == o.Value.List && slices.Equal(v.Values, o.Value.Values) {
				continue
			}
			out = append(out, Change{Op: OpSet, Package: after.Name, Section: a.Name, Option: o.Name, Value: o.Value})
		}
		for _, o := range b.Options {
			if _, ok := a.Get(o.Name); !ok {
				out = append(out, Change{Op: OpDelete, Package: after.Name, Section: a.Name, Option: o.Name})
			}
		}
	}
	return out
}
