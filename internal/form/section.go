package form

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"grimm.is/luci/internal/uci"
)

// Kind distinguishes sections over every record of a type from sections
// over one named record.
type Kind int

const (
	Typed Kind = iota
	Named
)

// Section templates.
const (
	TemplateNamed = "named"
	TemplateTable = "table"
	TemplateGrid  = "grid"
)

// Section is a group of records in a Map.
type Section struct {
	Kind        Kind
	Type        string
	Name        string // Named sections only
	Title       string
	Description string

	// Config overrides the map's package, for sections over a chained one.
	Config string

	Anonymous bool
	Addremove bool
	Sortable  bool
	Template  string
	MaxCount  int

	// Filter restricts a typed section to matching stored records.
	Filter func(sid string, rec map[string]string) bool

	Options []*Option

	m     *Map
	index int
}

// Option attaches a field. Rmempty defaults to true.
func (s *Section) Option(w Widget, name, title string) *Option {
	o := &Option{Widget: w, Name: name, Title: title, Rmempty: true, section: s}
	s.Options = append(s.Options, o)
	return o
}

// Lookup returns the option called name.
func (s *Section) Lookup(name string) *Option {
	for _, o := range s.Options {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// Key identifies the section within its map.
func (s *Section) Key() string {
	return strconv.Itoa(s.index)
}

func (s *Section) config() string {
	if s.Config != "" {
		return s.Config
	}
	return s.m.Config
}

func recordKey(config, sid string) string {
	return config + "." + sid
}

// Cfgsections returns the ids of the stored records shown by the section,
// in store order.
func (s *Section) Cfgsections() []string {
	p := s.m.pkg(s.config())
	if p == nil {
		return nil
	}
	return s.cfgsections(p)
}

func (s *Section) cfgsections(p *uci.Package) []string {
	if s.Kind == Named {
		if p.Section(s.Name) != nil {
			return []string{s.Name}
		}
		return nil
	}
	var out []string
	for _, sec := range p.SectionsOfType(s.Type) {
		if s.Filter != nil && !s.Filter(sec.Name, sec.Record()) {
			continue
		}
		out = append(out, sec.Name)
	}
	return out
}

// row is one record as the buffer sees it.
type row struct {
	sid     string
	pending *pending
}

// rowsLocked lists stored records in buffer order, minus removed ones,
// followed by records added in the buffer.
func (s *Section) rowsLocked(sess *Session) []row {
	cfg := s.config()
	var out []row
	for _, sid := range s.orderLocked(sess) {
		if !sess.removed[recordKey(cfg, sid)] {
			out = append(out, row{sid: sid})
		}
	}
	for i := range sess.added {
		if sess.added[i].section == s.index {
			out = append(out, row{sid: sess.added[i].sid, pending: &sess.added[i]})
		}
	}
	return out
}

func (s *Section) orderLocked(sess *Session) []string {
	stored := s.Cfgsections()
	want, ok := sess.order[s.index]
	if !ok {
		return stored
	}
	// Keep the buffered order for ids that still exist, then anything new.
	out := make([]string, 0, len(stored))
	for _, sid := range want {
		if slices.Contains(stored, sid) {
			out = append(out, sid)
		}
	}
	for _, sid := range stored {
		if !slices.Contains(out, sid) {
			out = append(out, sid)
		}
	}
	return out
}

// Add creates a record in the buffer and returns its id. Anonymous
// sections ignore name and get a temporary id; the store assigns the real
// one on save. Option defaults are written when the record is saved.
func (s *Section) Add(sess *Session, name string) (string, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.addLocked(sess, name)
}

func (s *Section) addLocked(sess *Session, name string) (string, error) {
	if !s.Addremove {
		return "", ErrNotAddable
	}
	p := s.m.pkg(s.config())
	if p == nil {
		return "", ErrNotLoaded
	}
	if s.MaxCount > 0 && len(s.rowsLocked(sess)) >= s.MaxCount {
		return "", ErrMaxCount
	}

	switch {
	case s.Kind == Named:
		name = s.Name
	case s.Anonymous:
		sess.seq++
		sess.added = append(sess.added, pending{
			sid:     fmt.Sprintf("new%s%d", uuid.NewString()[:6], sess.seq),
			section: s.index,
		})
		return sess.added[len(sess.added)-1].sid, nil
	case !uci.ValidName(name):
		return "", fmt.Errorf("%w: %q", uci.ErrInvalidName, name)
	}

	if p.Section(name) != nil && !sess.removed[recordKey(s.config(), name)] {
		return "", fmt.Errorf("section %s %w", name, uci.ErrExists)
	}
	if sess.findPending(name) >= 0 {
		return "", fmt.Errorf("section %s %w", name, uci.ErrExists)
	}
	sess.added = append(sess.added, pending{sid: name, section: s.index, name: name})
	return name, nil
}

// Remove deletes a record in the buffer.
func (s *Section) Remove(sess *Session, sid string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.removeLocked(sess, sid)
}

func (s *Section) removeLocked(sess *Session, sid string) error {
	if !s.Addremove {
		return ErrNotAddable
	}
	key := recordKey(s.config(), sid)
	if i := sess.findPending(sid); i >= 0 && sess.added[i].section == s.index {
		sess.added = slices.Delete(sess.added, i, i+1)
		delete(sess.values, key)
		return nil
	}
	if !slices.Contains(s.Cfgsections(), sid) {
		return fmt.Errorf("section %s: %w", sid, uci.ErrNotFound)
	}
	sess.removed[key] = true
	delete(sess.values, key)
	return nil
}

// Move places a stored record at index among the section's records.
func (s *Section) Move(sess *Session, sid string, index int) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.moveLocked(sess, sid, index)
}

func (s *Section) moveLocked(sess *Session, sid string, index int) error {
	if !s.Sortable {
		return ErrNotSortable
	}
	if sess.findPending(sid) >= 0 {
		return ErrPending
	}
	order := s.orderLocked(sess)
	i := slices.Index(order, sid)
	if i < 0 {
		return fmt.Errorf("section %s: %w", sid, uci.ErrNotFound)
	}
	order = slices.Delete(order, i, i+1)
	index = max(0, min(index, len(order)))
	sess.order[s.index] = slices.Insert(order, index, sid)
	return nil
}
