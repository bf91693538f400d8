package uci

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps packages in memory as serialized text, so a load
// always goes through the parser. Used by tests and `luci check`.
type MemoryBackend struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
	saves int
}

// NewMemoryBackend creates a backend seeded with package texts.
func NewMemoryBackend(files map[string]string) *MemoryBackend {
	b := &MemoryBackend{files: make(map[string][]byte)}
	for name, text := range files {
		b.files[name] = []byte(text)
	}
	return b
}

func (b *MemoryBackend) List(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	return names, nil
}

func (b *MemoryBackend) Load(ctx context.Context, name string) (*Package, error) {
	b.mu.Lock()
	data, ok := b.files[name]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("package %s: %w", name, ErrNotFound)
	}
	return ParseBytes(name, data)
}

func (b *MemoryBackend) Save(ctx context.Context, p *Package) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[p.Name]; err != nil {
		return err
	}
	b.files[p.Name] = Format(p)
	b.saves++
	return nil
}

// Text returns the stored text of a package.
func (b *MemoryBackend) Text(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.files[name])
}

// Saves returns how many times Save was called.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// FailSaves makes every Save of package name return err until it is
// called again with a nil err.
func (b *MemoryBackend) FailSaves(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail == nil {
		b.fail = make(map[string]error)
	}
	if err == nil {
		delete(b.fail, name)
		return
	}
	b.fail[name] = err
}
