package uci

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"grimm.is/luci/internal/rpc"
)

// Object returns the "uci" RPC object. Writes are staged; commit persists
// them and revert drops them.
func (s *Store) Object() rpc.Object {
	return rpc.Object{
		"configs": {
			ReadOnly: true,
			Handler: func(ctx context.Context, _ rpc.Args) (any, error) {
				names, err := s.Configs(ctx)
				if err != nil {
					return nil, toRPC(err)
				}
				return map[string]any{"configs": names}, nil
			},
		},
		"get": {
			ReadOnly: true,
			Params: map[string]string{
				"config":  rpc.TypeString,
				"section": rpc.TypeString,
				"option":  rpc.TypeString,
				"type":    rpc.TypeString,
				"match":   rpc.TypeObject,
			},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				var req struct {
					Config  string            `json:"config"`
					Section string            `json:"section"`
					Option  string            `json:"option"`
					Type    string            `json:"type"`
					Match   map[string]string `json:"match"`
				}
				if err := args.Decode(&req); err != nil {
					return nil, err
				}
				p, err := s.Package(ctx, req.Config)
				if err != nil {
					return nil, toRPC(err)
				}
				if req.Section == "" {
					return map[string]any{"values": filterValues(p, req.Type, req.Match)}, nil
				}
				name, err := p.Resolve(req.Section)
				if err != nil {
					return nil, toRPC(err)
				}
				idx := p.Index(name)
				if idx < 0 {
					return nil, rpc.Errorf(rpc.StatusNotFound, "section %s.%s not found", req.Config, req.Section)
				}
				sec := p.Sections[idx]
				if req.Option == "" {
					return map[string]any{"values": SectionValues(sec, idx)}, nil
				}
				v, ok := sec.Get(req.Option)
				if !ok {
					return nil, rpc.Errorf(rpc.StatusNotFound, "option %s.%s.%s not found", req.Config, name, req.Option)
				}
				if v.List {
					return map[string]any{"value": v.Values}, nil
				}
				return map[string]any{"value": v.String()}, nil
			},
		},
		"set": {
			Params: map[string]string{"config": rpc.TypeString, "section": rpc.TypeString, "values": rpc.TypeObject},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				section := args.String("section")
				if section == "" {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "section is required")
				}
				changes, err := setChanges(section, args["values"])
				if err != nil {
					return nil, err
				}
				if len(changes) == 0 {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "no values")
				}
				_, err = s.Stage(ctx, args.String("config"), changes...)
				return nil, toRPC(err)
			},
		},
		"add": {
			Params: map[string]string{"config": rpc.TypeString, "type": rpc.TypeString, "name": rpc.TypeString, "values": rpc.TypeObject},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				typ, name := args.String("type"), args.String("name")
				ref := name
				first := Change{Op: OpSet, Section: name, Type: typ}
				if name == "" {
					ref = "@" + typ + "[-1]"
					first = Change{Op: OpAdd, Type: typ}
				}
				sets, err := setChanges(ref, args["values"])
				if err != nil {
					return nil, err
				}
				res, err := s.Stage(ctx, args.String("config"), append([]Change{first}, sets...)...)
				if err != nil {
					return nil, toRPC(err)
				}
				return map[string]any{"section": res[0].Section}, nil
			},
		},
		"delete": {
			Params: map[string]string{"config": rpc.TypeString, "section": rpc.TypeString, "option": rpc.TypeString, "options": rpc.TypeArray},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				var req struct {
					Config  string   `json:"config"`
					Section string   `json:"section"`
					Option  string   `json:"option"`
					Options []string `json:"options"`
				}
				if err := args.Decode(&req); err != nil {
					return nil, err
				}
				opts := req.Options
				if req.Option != "" {
					opts = append(opts, req.Option)
				}
				var changes []Change
				for _, o := range opts {
					changes = append(changes, Change{Op: OpDelete, Section: req.Section, Option: o})
				}
				if len(changes) == 0 {
					changes = []Change{{Op: OpDelete, Section: req.Section}}
				}
				_, err := s.Stage(ctx, req.Config, changes...)
				return nil, toRPC(err)
			},
		},
		"rename": {
			Params: map[string]string{"config": rpc.TypeString, "section": rpc.TypeString, "option": rpc.TypeString, "name": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				err := s.Rename(ctx, args.String("config"), args.String("section"), args.String("option"), args.String("name"))
				return nil, toRPC(err)
			},
		},
		"order": {
			Params: map[string]string{"config": rpc.TypeString, "sections": rpc.TypeArray},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				var req struct {
					Config   string   `json:"config"`
					Sections []string `json:"sections"`
				}
				if err := args.Decode(&req); err != nil {
					return nil, err
				}
				changes := make([]Change, len(req.Sections))
				for i, name := range req.Sections {
					changes[i] = Change{Op: OpReorder, Section: name, Index: i}
				}
				_, err := s.Stage(ctx, req.Config, changes...)
				return nil, toRPC(err)
			},
		},
		"changes": {
			ReadOnly: true,
			Params:   map[string]string{"config": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				out := make(map[string][]string)
				for _, c := range s.Changes(args.String("config")) {
					out[c.Package] = append(out[c.Package], c.String())
				}
				return map[string]any{"changes": out}, nil
			},
		},
		"commit": {
			Params: map[string]string{"config": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				pkg := args.String("config")
				if !ValidName(pkg) {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "invalid config %q", pkg)
				}
				return nil, toRPC(s.Commit(ctx, pkg))
			},
		},
		"revert": {
			Params: map[string]string{"config": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				pkg := args.String("config")
				if !ValidName(pkg) {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "invalid config %q", pkg)
				}
				s.Revert(pkg)
				return nil, nil
			},
		},
		"reload": {
			Params: map[string]string{"config": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				pkg := args.String("config")
				if !ValidName(pkg) {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "invalid config %q", pkg)
				}
				return nil, toRPC(s.Reload(ctx, pkg))
			},
		},
		"export": {
			ReadOnly: true,
			Params:   map[string]string{"config": rpc.TypeString, "format": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				format := ExportFormat(args.String("format"))
				if format == "" {
					format = ExportUCI
				}
				p, err := s.Package(ctx, args.String("config"))
				if err != nil {
					return nil, toRPC(err)
				}
				var b strings.Builder
				if err := Export(&b, p, format); err != nil {
					return nil, rpc.Errorf(rpc.StatusInvalidArgument, "%v", err)
				}
				return map[string]any{"data": b.String()}, nil
			},
		},
		"diff": {
			ReadOnly: true,
			Params:   map[string]string{"config": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				d, err := s.Diff(ctx, args.String("config"))
				if err != nil {
					return nil, toRPC(err)
				}
				return map[string]any{"diff": d}, nil
			},
		},
	}
}

func filterValues(p *Package, typ string, match map[string]string) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for i, sec := range p.Sections {
		if typ != "" && sec.Type != typ {
			continue
		}
		rec := sec.Record()
		ok := true
		for k, v := range match {
			if rec[k] != v {
				ok = false
				break
			}
		}
		if ok {
			out[sec.Name] = SectionValues(sec, i)
		}
	}
	return out
}

// setChanges turns a values object into set changes on section. Strings
// become plain options and arrays of strings become lists.
func setChanges(section string, raw any) ([]Change, error) {
	values, _ := raw.(map[string]any)
	if raw != nil && values == nil {
		if a, ok := raw.(rpc.Args); ok {
			values = a
		}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		v, err := toValue(values[k])
		if err != nil {
			return nil, rpc.Errorf(rpc.StatusInvalidArgument, "%s: %v", k, err)
		}
		changes = append(changes, Change{Op: OpSet, Section: section, Option: k, Value: v})
	}
	return changes, nil
}

func toValue(v any) (Value, error) {
	switch x := v.(type) {
	case string:
		return Single(x), nil
	case bool:
		if x {
			return Single("1"), nil
		}
		return Single("0"), nil
	case float64:
		return Single(fmt.Sprint(x)), nil
	case []string:
		return List(x...), nil
	case []any:
		items := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return Value{}, fmt.Errorf("list items must be strings")
			}
			items[i] = s
		}
		return List(items...), nil
	}
	return Value{}, fmt.Errorf("unsupported value %T", v)
}

// toRPC maps store errors to ubus status codes.
func toRPC(err error) error {
	var pe *ParseError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return rpc.Errorf(rpc.StatusNotFound, "%v", err)
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidIndex),
		errors.Is(err, ErrExists), errors.Is(err, ErrNotList), errors.As(err, &pe):
		return rpc.Errorf(rpc.StatusInvalidArgument, "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return rpc.Errorf(rpc.StatusTimeout, "%v", err)
	}
	return rpc.Errorf(rpc.StatusUnknownError, "%v", err)
}
