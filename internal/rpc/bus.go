// Package rpc implements the ubus-style object bus behind the web UI.
//
// Objects register named methods with a parameter signature. Callers reach
// them in-process through Bus.Call, over HTTP through the JSON-RPC handler
// mounted at /ubus, or locally through the net/rpc bridge on a unix socket.
// Declare wraps any of those transports in a typed stub that shapes results
// the way views expect them.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
)

// Parameter type names reported by list.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

// Args are the named arguments of a call.
type Args map[string]any

// String returns args[key] if it is a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Bool accepts JSON booleans and the UCI spellings "1" and "true".
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		return v == "1" || v == "true"
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// Int returns a numeric argument, or def when absent.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Decode copies the arguments into a struct through their JSON form.
func (a Args) Decode(v any) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Errorf(StatusInvalidArgument, "%v", err)
	}
	return nil
}

// Handler implements one method.
type Handler func(ctx context.Context, args Args) (any, error)

// Method is a callable entry of an Object.
type Method struct {
	// Params maps argument names to one of the Type* names.
	Params   map[string]string
	Handler  Handler
	ReadOnly bool
}

// Object is a named set of methods.
type Object map[string]Method

// Caller is implemented by every transport.
type Caller interface {
	Call(ctx context.Context, object, method string, args Args) (any, error)
}

// Authorizer decides whether session sid may invoke object.method and
// returns a context that carries the caller identity.
type Authorizer interface {
	Authorize(ctx context.Context, sid, object, method string, readOnly bool) (context.Context, error)
}

// Signatures is the list reply: object -> method -> param -> type.
type Signatures map[string]map[string]map[string]string

// Bus dispatches calls to registered objects.
type Bus struct {
	mu      sync.RWMutex
	objects map[string]Object
	auth    Authorizer
	metrics *metrics.Registry
	logger  *logging.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		objects: make(map[string]Object),
		metrics: metrics.Get(),
		logger:  logging.WithComponent("rpc"),
	}
}

// SetAuthorizer installs the session check used by CallAs.
func (b *Bus) SetAuthorizer(a Authorizer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auth = a
}

// SetMetrics replaces the metrics registry.
func (b *Bus) SetMetrics(r *metrics.Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = r
}

// Register adds an object. Registering a name twice is an error.
func (b *Bus) Register(name string, obj Object) error {
	if name == "" || len(obj) == 0 {
		return fmt.Errorf("rpc: register %q: empty object", name)
	}
	for m, def := range obj {
		if def.Handler == nil {
			return fmt.Errorf("rpc: register %s.%s: nil handler", name, m)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; ok {
		return fmt.Errorf("rpc: object %q already registered", name)
	}
	b.objects[name] = obj
	b.logger.Debug("object registered", "object", name, "methods", len(obj))
	return nil
}

// Unregister removes an object.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, name)
}

// Lookup returns the definition of object.method.
func (b *Bus) Lookup(object, method string) (Method, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[object]
	if !ok {
		return Method{}, &Error{Object: object, Method: method, Status: StatusNotFound}
	}
	m, ok := obj[method]
	if !ok {
		return Method{}, &Error{Object: object, Method: method, Status: StatusMethodNotFound}
	}
	return m, nil
}

// Call invokes a method without a session check. It serves trusted
// in-process callers and the local socket bridge.
func (b *Bus) Call(ctx context.Context, object, method string, args Args) (any, error) {
	return b.dispatch(ctx, object, method, args)
}

// CallAs invokes a method on behalf of session sid.
func (b *Bus) CallAs(ctx context.Context, sid, object, method string, args Args) (any, error) {
	b.mu.RLock()
	auth := b.auth
	b.mu.RUnlock()

	if auth != nil {
		m, err := b.Lookup(object, method)
		if err != nil {
			b.record(object, method, StatusOf(err), 0)
			return nil, err
		}
		ctx, err = auth.Authorize(ctx, sid, object, method, m.ReadOnly)
		if err != nil {
			b.record(object, method, StatusPermissionDenied, 0)
			b.logger.Info("call denied", "object", object, "method", method)
			return nil, wrap(object, method, err)
		}
	}
	return b.dispatch(ctx, object, method, args)
}

func (b *Bus) dispatch(ctx context.Context, object, method string, args Args) (any, error) {
	start := time.Now()
	m, err := b.Lookup(object, method)
	if err != nil {
		b.record(object, method, StatusOf(err), 0)
		return nil, err
	}
	if args == nil {
		args = Args{}
	}
	if err := checkArgs(m.Params, args); err != nil {
		b.record(object, method, StatusInvalidArgument, 0)
		return nil, wrap(object, method, err)
	}

	res, err := m.Handler(ctx, args)
	secs := time.Since(start).Seconds()
	if err != nil {
		e := wrap(object, method, err)
		b.record(object, method, e.Status, secs)
		b.logger.Debug("call failed", "object", object, "method", method, "error", err)
		return nil, e
	}
	b.record(object, method, StatusOK, secs)
	return res, nil
}

func (b *Bus) record(object, method string, status Status, secs float64) {
	b.mu.RLock()
	r := b.metrics
	b.mu.RUnlock()
	if r != nil {
		r.RecordRPC(object, method, int(status), secs)
	}
}

// List returns the signatures of objects matching any of the glob
// patterns. No pattern lists everything.
func (b *Bus) List(patterns ...string) Signatures {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(Signatures)
	for name, obj := range b.objects {
		if !matchAny(patterns, name) {
			continue
		}
		methods := make(map[string]map[string]string, len(obj))
		for mname, m := range obj {
			params := make(map[string]string, len(m.Params))
			for k, v := range m.Params {
				params[k] = v
			}
			methods[mname] = params
		}
		out[name] = methods
	}
	return out
}

// Objects returns the registered object names in order.
func (b *Bus) Objects() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.objects))
	for n := range b.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// checkArgs rejects arguments whose JSON kind contradicts the signature.
func checkArgs(params map[string]string, args Args) error {
	for k, v := range args {
		want, ok := params[k]
		if !ok || want == TypeAny || v == nil {
			continue
		}
		if got := kindOf(v); got != TypeAny && got != want {
			return Errorf(StatusInvalidArgument, "%s: expected %s, got %s", k, want, got)
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return TypeNumber
	case []any, []string:
		return TypeArray
	case map[string]any, Args:
		return TypeObject
	}
	return TypeAny
}
