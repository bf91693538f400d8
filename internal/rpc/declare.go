package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"grimm.is/luci/internal/logging"
)

// Expect selects a member of the reply and supplies its default. An empty
// Key applies the default to the reply as a whole. The default also fixes
// the expected JSON kind: a reply of another kind is replaced by it.
type Expect struct {
	Key     string
	Default any
}

// Declaration describes a remote procedure the way a view uses it.
type Declaration struct {
	Object string
	Method string
	// Params names the positional arguments passed to Stub.Call.
	Params []string
	Expect *Expect
	// Filter post-processes the shaped reply. It receives the named
	// arguments of the call.
	Filter func(result any, args Args) any
}

// Stub is a declared procedure bound to a transport.
type Stub struct {
	caller Caller
	decl   Declaration
}

// Declare binds d to caller.
func Declare(caller Caller, d Declaration) *Stub {
	return &Stub{caller: caller, decl: d}
}

// Name returns "object.method".
func (s *Stub) Name() string { return s.decl.Object + "." + s.decl.Method }

// Args maps positional parameters to their declared names. With no
// declared params a single Args value is passed through unchanged.
func (s *Stub) Args(params ...any) Args {
	args := Args{}
	if len(s.decl.Params) == 0 {
		if len(params) == 1 {
			switch v := params[0].(type) {
			case Args:
				return v
			case map[string]any:
				return Args(v)
			}
		}
		return args
	}
	for i, name := range s.decl.Params {
		if i >= len(params) {
			break
		}
		if params[i] != nil {
			args[name] = params[i]
		}
	}
	return args
}

// Call invokes the procedure and shapes its reply.
func (s *Stub) Call(ctx context.Context, params ...any) (any, error) {
	args := s.Args(params...)
	res, err := s.caller.Call(ctx, s.decl.Object, s.decl.Method, args)
	if err != nil {
		return nil, err
	}
	res, err = normalize(res)
	if err != nil {
		return nil, &Error{Object: s.decl.Object, Method: s.decl.Method, Status: StatusInvalidCommand, Message: err.Error()}
	}
	if s.decl.Expect != nil {
		res = shape(res, *s.decl.Expect)
	}
	if s.decl.Filter != nil {
		res = s.decl.Filter(res, args)
	}
	return res, nil
}

// CallInto calls the procedure and decodes the shaped reply into out.
func (s *Stub) CallInto(ctx context.Context, out any, params ...any) error {
	res, err := s.Call(ctx, params...)
	if err != nil {
		return err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode reply: %w", s.Name(), err)
	}
	return nil
}

// ResolveDefault degrades a failed call to def. The failure is logged at
// debug level only; views render the default in place of the data.
func ResolveDefault[T any](v T, err error, def T) T {
	if err != nil {
		logging.Debug("call resolved to default", "error", err)
		return def
	}
	return v
}

// normalize converts a reply to its generic JSON form so that stubs see
// the same shapes whichever transport served them. Nested typed values
// (structs, typed slices inside maps) are converted too.
func normalize(v any) (any, error) {
	if generic(v) {
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// generic reports whether v is already a tree of decoded JSON values.
func generic(v any) bool {
	switch v := v.(type) {
	case nil, string, bool, float64:
		return true
	case map[string]any:
		for _, e := range v {
			if !generic(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range v {
			if !generic(e) {
				return false
			}
		}
		return true
	}
	return false
}

func shape(res any, e Expect) any {
	if e.Key != "" {
		obj, ok := res.(map[string]any)
		if !ok {
			return e.Default
		}
		res = obj[e.Key]
	}
	if res == nil {
		return e.Default
	}
	if e.Default != nil {
		def, err := normalize(e.Default)
		if err == nil && def != nil && kindOf(def) != kindOf(res) {
			return e.Default
		}
	}
	return res
}
