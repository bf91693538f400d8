package uci

import (
	"fmt"
	"slices"
	"strconv"
)

// ChangeOp is the kind of a staged change.
type ChangeOp string

const (
	OpSet     ChangeOp = "set"
	OpAdd     ChangeOp = "add"
	OpDelete  ChangeOp = "delete"
	OpRename  ChangeOp = "rename"
	OpReorder ChangeOp = "reorder"
	OpListAdd ChangeOp = "list-add"
	OpListDel ChangeOp = "list-del"
)

// Change is one staged modification of a package. Section always holds a
// resolved section name, never an @type[index] reference.
type Change struct {
	Op      ChangeOp `json:"op"`
	Package string   `json:"package"`
	Section string   `json:"section"`
	Option  string   `json:"option,omitempty"`
	Value   Value    `json:"value,omitempty"` // set, list-add, list-del
	Type    string   `json:"type,omitempty"`  // add
	Anon    bool     `json:"anonymous,omitempty"`
	Name    string   `json:"name,omitempty"`  // rename target
	Index   int      `json:"index,omitempty"` // reorder
}

// String renders the change the way `uci changes` lists it.
func (c Change) String() string {
	path := c.Package + "." + c.Section
	if c.Option != "" {
		path += "." + c.Option
	}
	switch c.Op {
	case OpSet:
		if c.Option == "" {
			return path + "=" + c.Type
		}
		if c.Value.List {
			s := path + "="
			for i, v := range c.Value.Values {
				if i > 0 {
					s += " "
				}
				s += Quote(v)
			}
			return s
		}
		return path + "=" + Quote(c.Value.String())
	case OpAdd:
		return "+" + path + "=" + c.Type
	case OpDelete:
		return "-" + path
	case OpRename:
		return "@" + path + "=" + c.Name
	case OpReorder:
		return "^" + path + "=" + strconv.Itoa(c.Index)
	case OpListAdd:
		return "|" + path + "=" + Quote(c.Value.String())
	case OpListDel:
		return "~" + path + "=" + Quote(c.Value.String())
	}
	return string(c.Op) + " " + path
}

// Apply performs c on p.
func Apply(p *Package, c Change) error {
	switch c.Op {
	case OpAdd:
		s, err := p.AddSection(c.Type, c.Section)
		if err != nil {
			return err
		}
		// Replayed anonymous adds keep the name chosen when they were staged.
		if c.Section != "" {
			s.Anonymous = c.Anon
		}
		return nil

	case OpSet:
		if c.Option == "" {
			// set pkg.section=type creates or retypes a named section
			if s := p.Section(c.Section); s != nil {
				s.Type = c.Type
				return nil
			}
			_, err := p.AddSection(c.Type, c.Section)
			return err
		}
		if err := checkName("option", c.Option); err != nil {
			return err
		}
		s, err := section(p, c.Section)
		if err != nil {
			return err
		}
		s.Set(c.Option, Value{List: c.Value.List, Values: slices.Clone(c.Value.Values)})
		return nil

	case OpDelete:
		if c.Option == "" {
			if !p.RemoveSection(c.Section) {
				return fmt.Errorf("section %s.%s: %w", p.Name, c.Section, ErrNotFound)
			}
			return nil
		}
		s, err := section(p, c.Section)
		if err != nil {
			return err
		}
		if !s.Unset(c.Option) {
			return fmt.Errorf("option %s.%s.%s: %w", p.Name, c.Section, c.Option, ErrNotFound)
		}
		return nil

	case OpRename:
		s, err := section(p, c.Section)
		if err != nil {
			return err
		}
		if err := checkName("name", c.Name); err != nil {
			return err
		}
		if c.Option == "" {
			if p.Section(c.Name) != nil {
				return fmt.Errorf("section %s.%s %w", p.Name, c.Name, ErrExists)
			}
			s.Name = c.Name
			s.Anonymous = false
			return nil
		}
		v, ok := s.Get(c.Option)
		if !ok {
			return fmt.Errorf("option %s.%s.%s: %w", p.Name, c.Section, c.Option, ErrNotFound)
		}
		if _, exists := s.Get(c.Name); exists {
			return fmt.Errorf("option %s.%s.%s %w", p.Name, c.Section, c.Name, ErrExists)
		}
		for i := range s.Options {
			if s.Options[i].Name == c.Option {
				s.Options[i] = Option{Name: c.Name, Value: v}
			}
		}
		return nil

	case OpReorder:
		return p.Move(c.Section, c.Index)

	case OpListAdd:
		if err := checkName("option", c.Option); err != nil {
			return err
		}
		s, err := section(p, c.Section)
		if err != nil {
			return err
		}
		v, _ := s.Get(c.Option)
		v.List = true
		v.Values = append(slices.Clone(v.Values), c.Value.Values...)
		s.Set(c.Option, v)
		return nil

	case OpListDel:
		s, err := section(p, c.Section)
		if err != nil {
			return err
		}
		v, ok := s.Get(c.Option)
		if !ok {
			return fmt.Errorf("option %s.%s.%s: %w", p.Name, c.Section, c.Option, ErrNotFound)
		}
		if !v.List {
			return fmt.Errorf("%s.%s.%s: %w", p.Name, c.Section, c.Option, ErrNotList)
		}
		v.Values = slices.DeleteFunc(slices.Clone(v.Values), func(item string) bool {
			return slices.Contains(c.Value.Values, item)
		})
		s.Set(c.Option, v)
		return nil
	}
	return fmt.Errorf("unknown change op %q", c.Op)
}

func section(p *Package, name string) (*Section, error) {
	s := p.Section(name)
	if s == nil {
		return nil, fmt.Errorf("section %s.%s: %w", p.Name, name, ErrNotFound)
	}
	return s, nil
}
