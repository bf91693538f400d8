package uci

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores one package per file in a directory, like /etc/config.
type FileBackend struct {
	Dir string
}

// NewFileBackend returns a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

// List returns the names of regular files with valid package names.
func (b *FileBackend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", b.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Load parses the package file.
func (b *FileBackend) Load(ctx context.Context, name string) (*Package, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: package %q", ErrInvalidName, name)
	}
	data, err := os.ReadFile(filepath.Join(b.Dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("package %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return ParseBytes(name, data)
}

// Save writes the package to a temporary file in the same directory and
// renames it over the old one.
func (b *FileBackend) Save(ctx context.Context, p *Package) error {
	if err := os.MkdirAll(b.Dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.Dir, "."+p.Name+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Write(tmp, p); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", p.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(b.Dir, p.Name))
}
