package views

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grimm.is/luci/internal/config"
)

//go:embed samples/*.hcl
var samples embed.FS

// Parse decodes and validates the views of one file. Files ending in
// .json use the JSON flavour of HCL.
func Parse(data []byte, filename string) ([]*View, error) {
	p := hclparse.NewParser()
	var (
		f     *hcl.File
		diags hcl.Diagnostics
	)
	if strings.HasSuffix(filename, ".json") {
		f, diags = p.ParseJSON(data, filename)
	} else {
		f, diags = p.ParseHCL(data, filename)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %w", diags)
	}

	var file File
	if diags := gohcl.DecodeBody(f.Body, config.EvalContext(), &file); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %w", diags)
	}

	var errs []error
	for _, v := range file.Views {
		v.Source = filename
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: view %q: %w", filename, v.Name, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return file.Views, nil
}

// LoadFile reads the views of one file.
func LoadFile(path string) ([]*View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read view file: %w", err)
	}
	return Parse(data, path)
}

// LoadDir reads every *.hcl and *.json file of dir. All files are checked
// and every error is reported, not just the first.
func LoadDir(dir string) (*Registry, error) {
	return LoadFS(os.DirFS(dir), ".", dir)
}

// LoadFS reads the view files of dir within fsys. prefix is prepended to
// file names in messages.
func LoadFS(fsys fs.FS, dir, prefix string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read views directory: %w", err)
	}
	r := NewRegistry()
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".hcl") || strings.HasSuffix(name, ".json")) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		vs, err := Parse(data, filepath.Join(prefix, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, v := range vs {
			if err := r.Add(v); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Samples returns the views shipped with the binary.
func Samples() (*Registry, error) {
	return LoadFS(samples, "samples", "samples")
}

// Registry holds loaded views by name.
type Registry struct {
	views map[string]*View
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*View)}
}

// Add registers v. Names are unique across files.
func (r *Registry) Add(v *View) error {
	if prev, ok := r.views[v.Name]; ok {
		return fmt.Errorf("view %q defined in %s and %s", v.Name, prev.Source, v.Source)
	}
	r.views[v.Name] = v
	return nil
}

// Merge adds every view of o that r does not define yet.
func (r *Registry) Merge(o *Registry) {
	for name, v := range o.views {
		if _, ok := r.views[name]; !ok {
			r.views[name] = v
		}
	}
}

// Get returns the view called name.
func (r *Registry) Get(name string) (*View, bool) {
	v, ok := r.views[name]
	return v, ok
}

// Len returns the number of views.
func (r *Registry) Len() int {
	return len(r.views)
}

// All returns every view ordered by menu parent, order and name.
func (r *Registry) All() []*View {
	out := make([]*View, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		pa, pb := a.parent(), b.parent()
		if pa != pb {
			return pa < pb
		}
		if oa, ob := a.order(), b.order(); oa != ob {
			return oa < ob
		}
		return a.Name < b.Name
	})
	return out
}

func (v *View) parent() string {
	if v.Menu == nil {
		return ""
	}
	return v.Menu.Parent
}

func (v *View) order() int {
	if v.Menu == nil {
		return 0
	}
	return v.Menu.Order
}
