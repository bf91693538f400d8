// Package uci implements the sectioned configuration store: the UCI text
// format, staged changes, commit to a pluggable backend, and the JSON,
// YAML and diff views over it.
//
// A package (one file under /etc/config) holds ordered sections. Each
// section has a type, a name (generated for anonymous sections) and ordered
// options, each either a single value or a list.
package uci

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidName  = errors.New("invalid name")
	ErrInvalidType  = errors.New("invalid section type")
	ErrExists       = errors.New("already exists")
	ErrNotList      = errors.New("option is not a list")
	ErrInvalidIndex = errors.New("invalid section index")
	ErrPending      = errors.New("uncommitted changes")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidName reports whether s is usable as a package, section, type or
// option name.
func ValidName(s string) bool {
	return nameRe.MatchString(s)
}

func checkName(kind, s string) error {
	if !ValidName(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, s)
	}
	return nil
}

// Value is an option value. A list option keeps every element; a plain
// option has exactly one.
type Value struct {
	List   bool     `json:"list,omitempty"`
	Values []string `json:"values"`
}

// String returns a plain option's value, or the list joined by spaces.
func (v Value) String() string {
	return strings.Join(v.Values, " ")
}

// Single builds a plain option value.
func Single(s string) Value {
	return Value{Values: []string{s}}
}

// List builds a list option value.
func List(items ...string) Value {
	return Value{List: true, Values: slices.Clone(items)}
}

// Option is a named value within a section. Options keep file order.
type Option struct {
	Name  string
	Value Value
}

// Section is one configuration record.
type Section struct {
	Name      string
	Type      string
	Anonymous bool
	Options   []Option
}

// Get returns the option value and whether it is set.
func (s *Section) Get(name string) (Value, bool) {
	for _, o := range s.Options {
		if o.Name == name {
			return o.Value, true
		}
	}
	return Value{}, false
}

// Set replaces or appends an option.
func (s *Section) Set(name string, v Value) {
	for i := range s.Options {
		if s.Options[i].Name == name {
			s.Options[i].Value = v
			return
		}
	}
	s.Options = append(s.Options, Option{Name: name, Value: v})
}

// Unset removes an option and reports whether it existed.
func (s *Section) Unset(name string) bool {
	for i := range s.Options {
		if s.Options[i].Name == name {
			s.Options = slices.Delete(s.Options, i, i+1)
			return true
		}
	}
	return false
}

// Record returns the section's options as a map, lists joined by spaces.
// Used by form filters and dependency predicates.
func (s *Section) Record() map[string]string {
	rec := make(map[string]string, len(s.Options))
	for _, o := range s.Options {
		rec[o.Name] = o.Value.String()
	}
	return rec
}

// Clone returns a deep copy.
func (s *Section) Clone() *Section {
	c := &Section{Name: s.Name, Type: s.Type, Anonymous: s.Anonymous}
	c.Options = make([]Option, len(s.Options))
	for i, o := range s.Options {
		c.Options[i] = Option{Name: o.Name, Value: Value{List: o.Value.List, Values: slices.Clone(o.Value.Values)}}
	}
	return c
}

// Package is one configuration namespace.
type Package struct {
	Name     string
	Sections []*Section

	// counter feeds anonymous section ids; it only grows.
	counter int
}

// NewPackage creates an empty package.
func NewPackage(name string) *Package {
	return &Package{Name: name}
}

// Clone returns a deep copy.
func (p *Package) Clone() *Package {
	c := &Package{Name: p.Name, counter: p.counter}
	c.Sections = make([]*Section, len(p.Sections))
	for i, s := range p.Sections {
		c.Sections[i] = s.Clone()
	}
	return c
}

// Section returns the named section, resolving @type[index] references.
func (p *Package) Section(name string) *Section {
	if i := p.index(name); i >= 0 {
		return p.Sections[i]
	}
	return nil
}

// SectionsOfType returns sections of the given type in order; an empty type
// returns all sections.
func (p *Package) SectionsOfType(typ string) []*Section {
	var out []*Section
	for _, s := range p.Sections {
		if typ == "" || s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// Index returns the position of a section, or -1.
func (p *Package) Index(name string) int {
	return p.index(name)
}

func (p *Package) index(name string) int {
	if strings.HasPrefix(name, "@") {
		sid, err := p.Resolve(name)
		if err != nil {
			return -1
		}
		name = sid
	}
	for i, s := range p.Sections {
		if s.Name == name {
			return i
		}
	}
	return -1
}

var refRe = regexp.MustCompile(`^@([A-Za-z0-9_]+)\[(-?[0-9]+)\]$`)

// Resolve turns an extended reference like @rule[0] or @rule[-1] into a
// section name. Plain names are returned as-is.
func (p *Package) Resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, "@") {
		return ref, nil
	}
	m := refRe.FindStringSubmatch(ref)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, ref)
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, ref)
	}
	list := p.SectionsOfType(m[1])
	if idx < 0 {
		idx += len(list)
	}
	if idx < 0 || idx >= len(list) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return list[idx].Name, nil
}

// nextAnonymousName returns the id the next added section of typ receives.
func (p *Package) nextAnonymousName(typ string) string {
	return p.anonymousName(p.counter+1, sectionHash(&Section{Type: typ}))
}

// anonymousName formats cfgXXYYYY: XX is the section's 1-based position in
// the package counter, YYYY the content hash. The counter is not truncated,
// so ids widen past cfgff.
func (p *Package) anonymousName(n int, h uint16) string {
	for ; ; n++ {
		name := fmt.Sprintf("cfg%02x%04x", n, h)
		if p.index(name) < 0 {
			return name
		}
	}
}

// fixupAnonymous renames a parsed anonymous section once its options are
// known, hashing type, option names and values.
func (p *Package) fixupAnonymous(s *Section, n int) {
	h := sectionHash(s)
	if s.Name == fmt.Sprintf("cfg%02x%04x", n, h) {
		return
	}
	s.Name = ""
	s.Name = p.anonymousName(n, h)
}

func djbHash(h uint32, str string) uint32 {
	for i := 0; i < len(str); i++ {
		h = (h << 5) + h + uint32(str[i])
	}
	return h & 0x7fffffff
}

func sectionHash(s *Section) uint16 {
	h := ^uint32(0)
	h = djbHash(h, s.Type)
	for _, o := range s.Options {
		h = djbHash(h, o.Name)
		for _, v := range o.Value.Values {
			h = djbHash(h, v)
		}
	}
	return uint16(h % 65536)
}

// AddSection appends a section. An empty name creates an anonymous section.
func (p *Package) AddSection(typ, name string) (*Section, error) {
	if err := checkName("type", typ); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	s := &Section{Type: typ}
	if name == "" {
		s.Name = p.nextAnonymousName(typ)
		s.Anonymous = true
	} else {
		if err := checkName("section", name); err != nil {
			return nil, err
		}
		if p.index(name) >= 0 {
			return nil, fmt.Errorf("section %s.%s %w", p.Name, name, ErrExists)
		}
		s.Name = name
	}
	p.counter++
	p.Sections = append(p.Sections, s)
	return s, nil
}

// RemoveSection deletes a section and reports whether it existed.
func (p *Package) RemoveSection(name string) bool {
	i := p.index(name)
	if i < 0 {
		return false
	}
	p.Sections = slices.Delete(p.Sections, i, i+1)
	return true
}

// Move places a section at index, clamped to the valid range.
func (p *Package) Move(name string, index int) error {
	i := p.index(name)
	if i < 0 {
		return fmt.Errorf("section %s.%s: %w", p.Name, name, ErrNotFound)
	}
	s := p.Sections[i]
	p.Sections = slices.Delete(p.Sections, i, i+1)
	index = max(0, min(index, len(p.Sections)))
	p.Sections = slices.Insert(p.Sections, index, s)
	return nil
}
