package form

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/uci"
)

// SaveHook runs after validation, before anything is staged. An error
// aborts the save.
type SaveHook func(ctx context.Context, changes map[string][]uci.Change) error

// CommitHook runs after a successful commit with the packages written.
type CommitHook func(ctx context.Context, pkgs []string)

// Map is a form over one UCI package, optionally chained with others that
// are committed in the same save.
type Map struct {
	Name        string // defaults to Config
	Config      string
	Title       string
	Description string
	Sections    []*Section

	store    *uci.Store
	chain    []string
	onSave   []SaveHook
	onCommit []CommitHook
	metrics  *metrics.Registry
	logger   *logging.Logger

	mu   sync.RWMutex
	pkgs map[string]*uci.Package
}

// NewMap creates a map over config.
func NewMap(store *uci.Store, config, title, description string) *Map {
	return &Map{
		Name:        config,
		Config:      config,
		Title:       title,
		Description: description,
		store:       store,
		metrics:     metrics.Get(),
		logger:      logging.WithComponent("form"),
	}
}

// SetMetrics replaces the metrics registry.
func (m *Map) SetMetrics(r *metrics.Registry) {
	m.metrics = r
}

// Section attaches s to the map.
func (m *Map) Section(s *Section) *Section {
	s.m = m
	s.index = len(m.Sections)
	if s.Template == "" {
		s.Template = TemplateNamed
	}
	for _, o := range s.Options {
		o.section = s
	}
	m.Sections = append(m.Sections, s)
	return s
}

// TypedSection attaches a section over every record of typ.
func (m *Map) TypedSection(typ, title, description string) *Section {
	return m.Section(&Section{Kind: Typed, Type: typ, Title: title, Description: description})
}

// NamedSection attaches a section over the record called name.
func (m *Map) NamedSection(name, typ, title, description string) *Section {
	return m.Section(&Section{Kind: Named, Name: name, Type: typ, Title: title, Description: description})
}

// Chain adds a package that is loaded and committed with the map.
func (m *Map) Chain(config string) {
	if config != m.Config && !slices.Contains(m.chain, config) {
		m.chain = append(m.chain, config)
	}
}

// Packages lists every package the map touches, its own first.
func (m *Map) Packages() []string {
	out := append([]string{m.Config}, m.chain...)
	for _, s := range m.Sections {
		if c := s.config(); !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// OnSave registers a hook run before staging.
func (m *Map) OnSave(h SaveHook) {
	m.onSave = append(m.onSave, h)
}

// OnCommit registers a hook run after committing.
func (m *Map) OnCommit(h CommitHook) {
	m.onCommit = append(m.onCommit, h)
}

// Load reads the map's packages, staged changes included. It fails when a
// package does not exist.
func (m *Map) Load(ctx context.Context) error {
	pkgs := make(map[string]*uci.Package)
	for _, name := range m.Packages() {
		p, err := m.store.Package(ctx, name)
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		pkgs[name] = p
	}
	m.mu.Lock()
	m.pkgs = pkgs
	m.mu.Unlock()
	return nil
}

// Loaded reports whether Load succeeded at least once.
func (m *Map) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pkgs != nil
}

func (m *Map) pkg(name string) *uci.Package {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pkgs[name]
}

// Reset discards the buffer.
func (m *Map) Reset(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.resetLocked()
}

func (m *Map) stored(s *Section, o *Option, sid string) ([]string, bool) {
	p := m.pkg(s.config())
	if p == nil {
		return nil, false
	}
	sec := p.Section(sid)
	if sec == nil {
		return nil, false
	}
	v, ok := sec.Get(o.Key())
	if !ok {
		return nil, false
	}
	return v.Values, true
}

// current resolves the value of o in r: the buffer when edited, else the
// store, else the default.
func (m *Map) current(sess *Session, s *Section, o *Option, r row) ([]string, bool) {
	if v, ok := sess.get(recordKey(s.config(), r.sid), o.Name); ok {
		return v, true
	}
	if r.pending == nil {
		if v, ok := m.stored(s, o, r.sid); ok {
			return v, false
		}
	}
	return o.defaults(), false
}

// rowValues collects the values dependency conditions see: the stored
// record overlaid with the current value of every declared option.
func (m *Map) rowValues(sess *Session, s *Section, r row) map[string][]string {
	vals := make(map[string][]string)
	if p := m.pkg(s.config()); p != nil && r.pending == nil {
		if sec := p.Section(r.sid); sec != nil {
			for _, o := range sec.Options {
				vals[o.Name] = o.Value.Values
			}
		}
	}
	for _, o := range s.Options {
		vals[o.Name], _ = m.current(sess, s, o, r)
	}
	return vals
}

func (m *Map) record(s *Section, r row) map[string]string {
	if p := m.pkg(s.config()); p != nil {
		if sec := p.Section(r.sid); sec != nil {
			return sec.Record()
		}
	}
	return map[string]string{}
}

// Render builds the view of the map with the buffer applied. A nil
// session renders stored values.
func (m *Map) Render(ctx context.Context, sess *Session) (*View, error) {
	if !m.Loaded() {
		if err := m.Load(ctx); err != nil {
			return nil, err
		}
	}
	if sess == nil {
		sess = NewSession(m.Name)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	v := &View{
		Name:        m.Name,
		Config:      m.Config,
		Title:       tr(ctx, m.Title),
		Description: tr(ctx, m.Description),
		Session:     sess.ID,
		Errors:      slices.Clone(sess.errs),
		Dirty:       len(sess.values) > 0 || len(sess.added) > 0 || len(sess.removed) > 0 || len(sess.order) > 0,
	}
	for _, s := range m.Sections {
		sv := SectionView{
			Key:         s.Key(),
			Config:      s.config(),
			Type:        s.Type,
			Name:        s.Name,
			Title:       tr(ctx, s.Title),
			Description: tr(ctx, s.Description),
			Template:    s.Template,
			Anonymous:   s.Anonymous,
			Addremove:   s.Addremove,
			Sortable:    s.Sortable,
		}
		for _, o := range s.Options {
			if o.Widget != HiddenValue {
				sv.Columns = append(sv.Columns, Column{Name: o.Name, Title: tr(ctx, o.Title)})
			}
		}
		rows := s.rowsLocked(sess)
		for _, r := range rows {
			sv.Rows = append(sv.Rows, m.renderRow(ctx, sess, s, r))
		}
		sv.CanAdd = s.Addremove &&
			(s.MaxCount == 0 || len(rows) < s.MaxCount) &&
			(s.Kind != Named || len(rows) == 0)
		v.Sections = append(v.Sections, sv)
	}
	return v, nil
}

func (m *Map) renderRow(ctx context.Context, sess *Session, s *Section, r row) Row {
	vis := visibility(s.Options, m.rowValues(sess, s, r))
	out := Row{SID: r.sid, New: r.pending != nil}
	for _, o := range s.Options {
		cur, edited := m.current(sess, s, o, r)
		f := Field{
			ID:          o.ID(r.sid),
			Name:        o.Name,
			Title:       tr(ctx, o.Title),
			Description: tr(ctx, o.Description),
			Widget:      o.Widget,
			Datatype:    o.Datatype,
			Default:     o.Default,
			Placeholder: o.Placeholder,
			Depends:     o.Depends,
			Rows:        o.Rows,
			Visible:     vis[o.Name],
			ReadOnly:    !o.writable(),
			Optional:    o.Optional,
			Required:    o.required(),
			Edited:      edited,
		}
		for _, c := range o.Choices {
			f.Choices = append(f.Choices, Choice{Value: c.Value, Label: tr(ctx, c.Label)})
		}
		switch {
		case o.Widget == DummyValue && o.Cfgvalue != nil:
			f.Value = o.Cfgvalue(r.sid, m.record(s, r))
		case o.Widget.Multiple():
			f.Values = slices.Clone(cur)
			f.Value = strings.Join(cur, " ")
		case len(cur) > 0:
			f.Value = cur[0]
		}
		if o.Widget == Flag {
			f.Enabled, f.Disabled = o.enabled(), o.disabled()
		}
		if e, ok := sess.errs.For(r.sid, o.Name); ok {
			f.Error = message(ctx, e)
		} else if edited && f.Visible && o.writable() {
			if err := o.check(r.sid, cur); err != nil {
				f.Error = message(ctx, ValidationError{Message: err.Error(), cause: err})
			}
		}
		out.Fields = append(out.Fields, f)
	}
	return out
}

func tr(ctx context.Context, s string) string {
	if s == "" {
		return ""
	}
	return i18n.T(ctx, s)
}

func message(ctx context.Context, e ValidationError) string {
	var de *datatype.Error
	switch {
	case e.cause == nil:
		return e.Message
	case errors.Is(e.cause, errRequired):
		return i18n.T(ctx, i18n.MsgRequired)
	case errors.As(e.cause, &de):
		return i18n.T(ctx, i18n.MsgMustBe, i18n.T(ctx, de.Expect))
	}
	return e.Message
}

// Parse merges submitted values into the buffer. Keys are field ids
// (cbid.<config>.<sid>.<option>) and record actions:
//
//	cbi.cts.<config>.<section key> = name   add a record
//	cbi.rts.<config>.<sid>                  remove a record
//	cbi.sts.<config>.<sid> = index          move a record
//	cbi.cbe.<config>.<sid>.<option>         field present; an unchecked flag
//	                                        or a multi-value with nothing set
//
// Parse never touches the store.
func (m *Map) Parse(sess *Session, input map[string][]string) error {
	if !m.Loaded() {
		return ErrNotLoaded
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := m.actionsLocked(sess, input); err != nil {
		return err
	}
	for _, s := range m.Sections {
		for _, r := range s.rowsLocked(sess) {
			rec := recordKey(s.config(), r.sid)
			for _, o := range s.Options {
				if !o.writable() {
					continue
				}
				id := o.ID(r.sid)
				if vals, ok := input[id]; ok {
					sess.set(rec, o.Name, o.normalize(vals))
					continue
				}
				if _, ok := input["cbi.cbe."+strings.TrimPrefix(id, "cbid.")]; ok {
					switch {
					case o.Widget == Flag:
						sess.set(rec, o.Name, []string{o.disabled()})
					case o.Widget.Multiple():
						sess.set(rec, o.Name, []string{})
					}
				}
			}
		}
	}
	sess.errs = nil
	return nil
}

func (m *Map) actionsLocked(sess *Session, input map[string][]string) error {
	for _, key := range slices.Sorted(maps.Keys(input)) {
		var arg string
		if vals := input[key]; len(vals) > 0 {
			arg = vals[0]
		}
		action, rest, ok := strings.Cut(strings.TrimPrefix(key, "cbi."), ".")
		if !ok || !strings.HasPrefix(key, "cbi.") {
			continue
		}
		cfg, target, ok := strings.Cut(rest, ".")
		if !ok {
			return fmt.Errorf("malformed action %q", key)
		}
		switch action {
		case "cts":
			s := m.sectionByKey(cfg, target)
			if s == nil {
				return fmt.Errorf("section %s: %w", target, uci.ErrNotFound)
			}
			if _, err := s.addLocked(sess, arg); err != nil {
				return err
			}
		case "rts":
			s := m.sectionOf(sess, cfg, target)
			if s == nil {
				return fmt.Errorf("section %s: %w", target, uci.ErrNotFound)
			}
			if err := s.removeLocked(sess, target); err != nil {
				return err
			}
		case "sts":
			s := m.sectionOf(sess, cfg, target)
			if s == nil {
				return fmt.Errorf("section %s: %w", target, uci.ErrNotFound)
			}
			idx, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("move %s: invalid index %q", target, arg)
			}
			if err := s.moveLocked(sess, target, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Map) sectionByKey(cfg, key string) *Section {
	for _, s := range m.Sections {
		if s.config() == cfg && s.Key() == key {
			return s
		}
	}
	return nil
}

// sectionOf finds the section showing record sid.
func (m *Map) sectionOf(sess *Session, cfg, sid string) *Section {
	for _, s := range m.Sections {
		if s.config() != cfg {
			continue
		}
		for _, r := range s.rowsLocked(sess) {
			if r.sid == sid {
				return s
			}
		}
	}
	return nil
}

// SectionOf returns the section showing record sid of config.
func (m *Map) SectionOf(sess *Session, cfg, sid string) *Section {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return m.sectionOf(sess, cfg, sid)
}

// Validate checks every visible option of every record with the buffer
// applied.
func (m *Map) Validate(sess *Session) ValidationErrors {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return m.validateLocked(sess)
}

func (m *Map) validateLocked(sess *Session) ValidationErrors {
	var errs ValidationErrors
	for _, s := range m.Sections {
		for _, r := range s.rowsLocked(sess) {
			vis := visibility(s.Options, m.rowValues(sess, s, r))
			for _, o := range s.Options {
				if !vis[o.Name] || !o.writable() {
					continue
				}
				cur, _ := m.current(sess, s, o, r)
				if err := o.check(r.sid, cur); err != nil {
					errs = append(errs, ValidationError{Section: r.sid, Option: o.Name, Message: err.Error(), cause: err})
				}
			}
		}
	}
	return errs
}

// Save validates the whole map and, when every value is accepted, stages
// and commits all changes at once. On validation failure it returns
// ValidationErrors and writes nothing.
func (m *Map) Save(ctx context.Context, sess *Session) error {
	if err := m.Load(ctx); err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if errs := m.validateLocked(sess); len(errs) > 0 {
		sess.errs = errs
		m.metrics.RecordFormSave(m.Name, "invalid", len(errs))
		m.logger.Debug("save rejected", "map", m.Name, "invalid", len(errs))
		return errs
	}
	sess.errs = nil

	batches, err := m.changesLocked(sess)
	if err != nil {
		m.metrics.RecordFormSave(m.Name, "error", 0)
		return err
	}
	var dirty []string
	for _, name := range m.Packages() {
		if len(batches[name]) > 0 {
			dirty = append(dirty, name)
		}
	}
	if len(dirty) == 0 {
		sess.resetLocked()
		m.metrics.RecordFormSave(m.Name, "unchanged", 0)
		return nil
	}

	for _, h := range m.onSave {
		if err := h(ctx, batches); err != nil {
			m.metrics.RecordFormSave(m.Name, "error", 0)
			return fmt.Errorf("save %s: %w", m.Name, err)
		}
	}
	if _, err := m.store.Apply(ctx, batches); err != nil {
		m.metrics.RecordFormSave(m.Name, "error", 0)
		return fmt.Errorf("save %s: %w", m.Name, err)
	}
	sess.resetLocked()
	m.metrics.RecordFormSave(m.Name, "ok", 0)
	m.logger.Info("saved", "map", m.Name, "packages", strings.Join(dirty, ","))

	for _, h := range m.onCommit {
		h(ctx, dirty)
	}
	if err := m.Load(ctx); err != nil {
		m.logger.Warn("reload after save failed", "map", m.Name, "error", err)
	}
	return nil
}

// changesLocked turns the buffer into store changes per package:
// removals, creations with their values, option writes, then moves.
func (m *Map) changesLocked(sess *Session) (map[string][]uci.Change, error) {
	batches := make(map[string][]uci.Change)
	deleted := make(map[string]bool)

	for _, s := range m.Sections {
		cfg := s.config()
		for _, sid := range s.Cfgsections() {
			key := recordKey(cfg, sid)
			if sess.removed[key] && !deleted[key] {
				deleted[key] = true
				batches[cfg] = append(batches[cfg], uci.Change{Op: uci.OpDelete, Section: sid})
			}
		}
		for _, r := range s.rowsLocked(sess) {
			vis := visibility(s.Options, m.rowValues(sess, s, r))
			if r.pending != nil {
				batches[cfg] = append(batches[cfg], m.createChanges(sess, s, r, vis)...)
				continue
			}
			for _, o := range s.Options {
				if c, ok := m.optionChange(sess, s, o, r, vis[o.Name]); ok {
					batches[cfg] = append(batches[cfg], c)
				}
			}
		}
	}

	for _, cfg := range m.Packages() {
		moves, err := m.movesLocked(sess, cfg)
		if err != nil {
			return nil, err
		}
		batches[cfg] = append(batches[cfg], moves...)
	}
	return batches, nil
}

func setChange(sid string, o *Option, vals []string) uci.Change {
	v := uci.Single(vals[0])
	if o.Widget.Multiple() {
		v = uci.List(vals...)
	}
	return uci.Change{Op: uci.OpSet, Section: sid, Option: o.Key(), Value: v}
}

// createChanges creates a buffered record and writes every visible
// non-empty value, defaults included.
func (m *Map) createChanges(sess *Session, s *Section, r row, vis map[string]bool) []uci.Change {
	var out []uci.Change
	ref := r.pending.name
	if ref == "" {
		out = append(out, uci.Change{Op: uci.OpAdd, Type: s.Type})
		ref = "@" + s.Type + "[-1]"
	} else {
		out = append(out, uci.Change{Op: uci.OpSet, Section: ref, Type: s.Type})
	}
	for _, o := range s.Options {
		if !o.writable() || !vis[o.Name] {
			continue
		}
		if cur, _ := m.current(sess, s, o, r); !isEmpty(cur) {
			out = append(out, setChange(ref, o, cur))
		}
	}
	return out
}

// optionChange decides the write for one option of a stored record.
// Unedited defaults of absent options stay implicit unless the option is
// required.
func (m *Map) optionChange(sess *Session, s *Section, o *Option, r row, visible bool) (uci.Change, bool) {
	if !o.writable() {
		return uci.Change{}, false
	}
	stored, has := m.stored(s, o, r.sid)
	del := uci.Change{Op: uci.OpDelete, Section: r.sid, Option: o.Key()}
	if !visible {
		return del, has && o.Rmempty
	}
	cur, edited := m.current(sess, s, o, r)
	switch {
	case isEmpty(cur):
		return del, has
	case has && slices.Equal(stored, cur):
		return uci.Change{}, false
	case !has && !edited && !o.required():
		return uci.Change{}, false
	}
	return setChange(r.sid, o, cur), true
}

// movesLocked emits reorder changes putting buffered section orders in
// place. Records keep the set of positions their section occupies.
func (m *Map) movesLocked(sess *Session, cfg string) ([]uci.Change, error) {
	p := m.pkg(cfg)
	if p == nil {
		return nil, nil
	}
	work := p.Clone()
	for key := range sess.removed {
		if c, sid, _ := strings.Cut(key, "."); c == cfg {
			work.RemoveSection(sid)
		}
	}

	var out []uci.Change
	for _, s := range m.Sections {
		if s.config() != cfg {
			continue
		}
		if _, ok := sess.order[s.index]; !ok {
			continue
		}
		var order []string
		for _, sid := range s.orderLocked(sess) {
			if work.Index(sid) >= 0 {
				order = append(order, sid)
			}
		}
		slots := make([]int, len(order))
		for i, sid := range order {
			slots[i] = work.Index(sid)
		}
		slices.Sort(slots)

		target := make([]string, len(work.Sections))
		for i, sec := range work.Sections {
			target[i] = sec.Name
		}
		for i, pos := range slots {
			target[pos] = order[i]
		}
		for i, sid := range target {
			if work.Sections[i].Name == sid {
				continue
			}
			if err := work.Move(sid, i); err != nil {
				return nil, fmt.Errorf("move %s: %w", sid, err)
			}
			out = append(out, uci.Change{Op: uci.OpReorder, Section: sid, Index: i})
		}
	}
	return out, nil
}
