package uci

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"grimm.is/luci/internal/logging"
)

// Backend persists committed packages.
type Backend interface {
	// List returns the names of all stored packages.
	List(ctx context.Context) ([]string, error)
	// Load returns a package or an error wrapping ErrNotFound.
	Load(ctx context.Context, name string) (*Package, error)
	// Save replaces a package atomically.
	Save(ctx context.Context, p *Package) error
}

// MultiSaver is implemented by backends that can replace several packages
// in one transaction.
type MultiSaver interface {
	SaveAll(ctx context.Context, pkgs []*Package) error
}

// CommitHook is called after a package was committed, outside the store lock.
type CommitHook func(pkg string, changes []Change)

// Store is the configuration store: committed packages from a Backend plus
// per-package staged changes. It is safe for concurrent use.
type Store struct {
	backend Backend
	logger  *logging.Logger

	mu        sync.Mutex
	committed map[string]*Package
	staged    map[string]*Package // committed with deltas applied
	deltas    map[string][]Change

	hookMu sync.RWMutex
	hooks  []CommitHook
}

// NewStore creates a store over backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend:   backend,
		logger:    logging.WithComponent("uci"),
		committed: make(map[string]*Package),
		staged:    make(map[string]*Package),
		deltas:    make(map[string][]Change),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// OnCommit registers a hook run after every successful commit.
func (s *Store) OnCommit(h CommitHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Configs lists package names, sorted.
func (s *Store) Configs(ctx context.Context) ([]string, error) {
	names, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) committedLocked(ctx context.Context, name string) (*Package, error) {
	if p, ok := s.committed[name]; ok {
		return p, nil
	}
	if err := checkName("package", name); err != nil {
		return nil, err
	}
	p, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	s.committed[name] = p
	return p, nil
}

func (s *Store) stagedLocked(ctx context.Context, name string) (*Package, error) {
	if p, ok := s.staged[name]; ok {
		return p, nil
	}
	c, err := s.committedLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Package returns a copy of the package with staged changes applied.
func (s *Store) Package(ctx context.Context, name string) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.stagedLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Committed returns a copy of the package as last committed.
func (s *Store) Committed(ctx context.Context, name string) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.committedLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Section returns a copy of one section of the staged view.
func (s *Store) Section(ctx context.Context, pkg, section string) (*Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.stagedLocked(ctx, pkg)
	if err != nil {
		return nil, err
	}
	sec := p.Section(section)
	if sec == nil {
		return nil, fmt.Errorf("section %s.%s: %w", pkg, section, ErrNotFound)
	}
	return sec.Clone(), nil
}

// Sections returns copies of the sections of typ ("" for all) in order.
func (s *Store) Sections(ctx context.Context, pkg, typ string) ([]*Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.stagedLocked(ctx, pkg)
	if err != nil {
		return nil, err
	}
	var out []*Section
	for _, sec := range p.SectionsOfType(typ) {
		out = append(out, sec.Clone())
	}
	return out, nil
}

// Get returns one option value.
func (s *Store) Get(ctx context.Context, pkg, section, option string) (Value, error) {
	sec, err := s.Section(ctx, pkg, section)
	if err != nil {
		return Value{}, err
	}
	v, ok := sec.Get(option)
	if !ok {
		return Value{}, fmt.Errorf("option %s.%s.%s: %w", pkg, section, option, ErrNotFound)
	}
	return v, nil
}

// Stage applies changes to the staged view of pkg. Either every change
// applies or none is recorded. Add changes with an empty section get a
// generated anonymous name; the resolved changes are returned.
func (s *Store) Stage(ctx context.Context, pkg string, changes ...Change) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work, resolved, err := s.prepareLocked(ctx, pkg, changes)
	if err != nil {
		return nil, err
	}
	s.staged[pkg] = work
	s.deltas[pkg] = append(s.deltas[pkg], resolved...)
	return resolved, nil
}

// StageAll stages changes for several packages. Nothing is recorded unless
// every package accepts all of its changes.
func (s *Store) StageAll(ctx context.Context, batches map[string][]Change) (map[string][]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(batches))
	for name := range batches {
		names = append(names, name)
	}
	sort.Strings(names)

	works := make(map[string]*Package, len(names))
	out := make(map[string][]Change, len(names))
	for _, name := range names {
		if len(batches[name]) == 0 {
			continue
		}
		work, resolved, err := s.prepareLocked(ctx, name, batches[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		works[name] = work
		out[name] = resolved
	}
	for name, work := range works {
		s.staged[name] = work
		s.deltas[name] = append(s.deltas[name], out[name]...)
	}
	return out, nil
}

func (s *Store) prepareLocked(ctx context.Context, pkg string, changes []Change) (*Package, []Change, error) {
	view, err := s.stagedLocked(ctx, pkg)
	if err != nil {
		return nil, nil, err
	}
	work := view.Clone()
	resolved := make([]Change, 0, len(changes))

	for _, c := range changes {
		c.Package = pkg
		if strings.HasPrefix(c.Section, "@") {
			sid, err := work.Resolve(c.Section)
			if err != nil {
				return nil, nil, err
			}
			c.Section = sid
		}
		if c.Op == OpAdd && c.Section == "" {
			if err := checkName("type", c.Type); err != nil {
				return nil, nil, fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
			}
			c.Section = work.nextAnonymousName(c.Type)
			c.Anon = true
		}
		if err := Apply(work, c); err != nil {
			return nil, nil, err
		}
		resolved = append(resolved, c)
	}
	return work, resolved, nil
}

// Set stages a plain or list value.
func (s *Store) Set(ctx context.Context, pkg, section, option string, v Value) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpSet, Section: section, Option: option, Value: v})
	return err
}

// SetSection stages creation (or retyping) of a named section.
func (s *Store) SetSection(ctx context.Context, pkg, section, typ string) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpSet, Section: section, Type: typ})
	return err
}

// Add stages a new anonymous section and returns its generated name.
func (s *Store) Add(ctx context.Context, pkg, typ string) (string, error) {
	res, err := s.Stage(ctx, pkg, Change{Op: OpAdd, Type: typ})
	if err != nil {
		return "", err
	}
	return res[0].Section, nil
}

// Delete stages removal of an option, or of the whole section when option
// is empty.
func (s *Store) Delete(ctx context.Context, pkg, section, option string) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpDelete, Section: section, Option: option})
	return err
}

// Rename stages renaming a section (option empty) or an option.
func (s *Store) Rename(ctx context.Context, pkg, section, option, name string) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpRename, Section: section, Option: option, Name: name})
	return err
}

// Reorder stages moving a section to index.
func (s *Store) Reorder(ctx context.Context, pkg, section string, index int) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpReorder, Section: section, Index: index})
	return err
}

// AddList stages appending value to a list option.
func (s *Store) AddList(ctx context.Context, pkg, section, option, value string) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpListAdd, Section: section, Option: option, Value: List(value)})
	return err
}

// DelList stages removing every occurrence of value from a list option.
func (s *Store) DelList(ctx context.Context, pkg, section, option, value string) error {
	_, err := s.Stage(ctx, pkg, Change{Op: OpListDel, Section: section, Option: option, Value: List(value)})
	return err
}

// Changes returns the staged changes of pkg, or of every package when pkg
// is empty.
func (s *Store) Changes(pkg string) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkg != "" {
		return slices.Clone(s.deltas[pkg])
	}
	names := make([]string, 0, len(s.deltas))
	for name := range s.deltas {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []Change
	for _, name := range names {
		out = append(out, s.deltas[name]...)
	}
	return out
}

// Revert drops the staged changes of pkg, or of every package when empty.
func (s *Store) Revert(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkg == "" {
		clear(s.staged)
		clear(s.deltas)
		return
	}
	delete(s.staged, pkg)
	delete(s.deltas, pkg)
}

// Reload drops the cached committed copy so the next read goes to the
// backend. Staged changes of pkg are kept and replayed on top.
func (s *Store) Reload(ctx context.Context, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.committed, pkg)
	delete(s.staged, pkg)
	changes := s.deltas[pkg]
	if len(changes) == 0 {
		return nil
	}
	base, err := s.committedLocked(ctx, pkg)
	if err != nil {
		return err
	}
	work := base.Clone()
	for _, c := range changes {
		if err := Apply(work, c); err != nil {
			return fmt.Errorf("replay %s: %w", c, err)
		}
	}
	s.staged[pkg] = work
	return nil
}

// Commit persists the staged changes of pkg. Committing a package without
// changes is a no-op.
func (s *Store) Commit(ctx context.Context, pkg string) error {
	return s.CommitAll(ctx, pkg)
}

// CommitAll persists several packages: all of them or none. With a
// MultiSaver backend they are written in one transaction; otherwise they
// are written in order and the ones already written are restored when a
// later one fails. On failure the staged changes are kept.
func (s *Store) CommitAll(ctx context.Context, pkgs ...string) error {
	s.mu.Lock()

	var (
		dirty   []*Package
		names   []string
		changes = make(map[string][]Change)
	)
	for _, name := range pkgs {
		if len(s.deltas[name]) == 0 || changes[name] != nil {
			continue
		}
		dirty = append(dirty, s.staged[name].Clone())
		names = append(names, name)
		changes[name] = slices.Clone(s.deltas[name])
	}
	if len(dirty) == 0 {
		s.mu.Unlock()
		return nil
	}

	if err := s.persistLocked(ctx, dirty); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, p := range dirty {
		s.markCommitted(p)
	}
	s.mu.Unlock()

	s.runHooks(names, changes)
	return nil
}

// Apply stages batches and commits the packages they touch in one step.
// Staged changes already present for those packages are committed with
// them. When anything fails the store is left exactly as before the call.
func (s *Store) Apply(ctx context.Context, batches map[string][]Change) (map[string][]Change, error) {
	s.mu.Lock()

	names := make([]string, 0, len(batches))
	for name, b := range batches {
		if len(b) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var (
		dirty   = make([]*Package, 0, len(names))
		out     = make(map[string][]Change, len(names))
		changes = make(map[string][]Change, len(names))
	)
	for _, name := range names {
		work, resolved, err := s.prepareLocked(ctx, name, batches[name])
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		dirty = append(dirty, work)
		out[name] = resolved
		changes[name] = append(slices.Clone(s.deltas[name]), resolved...)
	}
	if len(dirty) == 0 {
		s.mu.Unlock()
		return out, nil
	}

	if err := s.persistLocked(ctx, dirty); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, p := range dirty {
		s.markCommitted(p)
	}
	s.mu.Unlock()

	s.runHooks(names, changes)
	return out, nil
}

// persistLocked writes dirty through the backend, all or nothing.
func (s *Store) persistLocked(ctx context.Context, dirty []*Package) error {
	if ms, ok := s.backend.(MultiSaver); ok && len(dirty) > 1 {
		return ms.SaveAll(ctx, dirty)
	}
	for i, p := range dirty {
		err := s.backend.Save(ctx, p)
		if err == nil {
			continue
		}
		err = fmt.Errorf("commit %s: %w", p.Name, err)
		for _, done := range dirty[:i] {
			prev, ok := s.committed[done.Name]
			if !ok {
				continue
			}
			if rerr := s.backend.Save(context.WithoutCancel(ctx), prev); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restore %s: %w", done.Name, rerr))
			}
		}
		return err
	}
	return nil
}

// Replace commits p as the whole new content of its package and runs the
// commit hooks with the changes between the old content and p. save writes
// p; nil uses the backend. A package with staged changes is refused with
// ErrPending.
func (s *Store) Replace(ctx context.Context, p *Package, save func(context.Context, *Package) error) error {
	s.mu.Lock()

	if len(s.deltas[p.Name]) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%s has %w", p.Name, ErrPending)
	}
	before, err := s.committedLocked(ctx, p.Name)
	if errors.Is(err, ErrNotFound) {
		before, err = NewPackage(p.Name), nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if save == nil {
		save = s.backend.Save
	}
	if err := save(ctx, p); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("replace %s: %w", p.Name, err)
	}
	next := p.Clone()
	next.counter = max(next.counter, before.counter)
	s.markCommitted(next)
	s.mu.Unlock()

	s.runHooks([]string{p.Name}, map[string][]Change{p.Name: DiffChanges(before, next)})
	return nil
}

func (s *Store) runHooks(names []string, changes map[string][]Change) {
	s.hookMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hookMu.RUnlock()

	for _, name := range names {
		s.logger.Info("committed", "package", name, "changes", len(changes[name]))
		for _, h := range hooks {
			h(name, changes[name])
		}
	}
}

func (s *Store) markCommitted(p *Package) {
	s.committed[p.Name] = p
	delete(s.staged, p.Name)
	delete(s.deltas, p.Name)
}

// Create commits a new empty package. It fails with ErrExists when the
// package is already present.
func (s *Store) Create(ctx context.Context, name string) error {
	if err := checkName("package", name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.committedLocked(ctx, name); err == nil {
		return fmt.Errorf("package %s %w", name, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	p := NewPackage(name)
	if err := s.backend.Save(ctx, p); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	s.committed[name] = p
	return nil
}
