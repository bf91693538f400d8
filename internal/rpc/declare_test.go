package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	result any
	err    error

	object, method string
	args           Args
}

func (f *fakeCaller) Call(ctx context.Context, object, method string, args Args) (any, error) {
	f.object, f.method, f.args = object, method, args
	return f.result, f.err
}

func TestStub_Params(t *testing.T) {
	fc := &fakeCaller{}
	stub := Declare(fc, Declaration{Object: "file", Method: "read", Params: []string{"path", "base64"}})
	assert.Equal(t, "file.read", stub.Name())

	_, err := stub.Call(context.Background(), "/etc/config/system")
	require.NoError(t, err)
	assert.Equal(t, "file", fc.object)
	assert.Equal(t, "read", fc.method)
	assert.Equal(t, Args{"path": "/etc/config/system"}, fc.args)

	// Without declared params a single map is passed through.
	raw := Declare(fc, Declaration{Object: "uci", Method: "get"})
	_, err = raw.Call(context.Background(), map[string]any{"config": "network"})
	require.NoError(t, err)
	assert.Equal(t, Args{"config": "network"}, fc.args)
}

func TestStub_Expect(t *testing.T) {
	tests := []struct {
		name   string
		result any
		expect Expect
		want   any
	}{
		{"member", map[string]any{"values": map[string]any{"a": "1"}}, Expect{Key: "values", Default: map[string]any{}}, map[string]any{"a": "1"}},
		{"missing member", map[string]any{"other": 1.0}, Expect{Key: "values", Default: map[string]any{}}, map[string]any{}},
		{"kind mismatch", map[string]any{"entries": "oops"}, Expect{Key: "entries", Default: []any{}}, []any{}},
		{"non-object reply", "text", Expect{Key: "data", Default: ""}, ""},
		{"whole reply", nil, Expect{Default: map[string]any{}}, map[string]any{}},
		{"whole reply kept", []any{"a"}, Expect{Default: []any{}}, []any{"a"}},
		{"struct reply", boardInfo{Hostname: "gw"}, Expect{Key: "hostname", Default: "?"}, "gw"},
		{
			"typed slice member",
			map[string]any{"results": []boardInfo{{Hostname: "gw", Model: "apu2"}}},
			Expect{Key: "results", Default: []any{}},
			[]any{map[string]any{"hostname": "gw", "model": "apu2"}},
		},
		{
			"nested typed map",
			map[string]any{"stats": map[string]int{"rx": 3}},
			Expect{Key: "stats", Default: map[string]any{}},
			map[string]any{"rx": 3.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := Declare(&fakeCaller{result: tt.result}, Declaration{Object: "o", Method: "m", Expect: &tt.expect})
			got, err := stub.Call(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStub_Filter(t *testing.T) {
	fc := &fakeCaller{result: map[string]any{"results": []any{
		map[string]any{"name": "lan"}, map[string]any{"name": "wan"},
	}}}
	stub := Declare(fc, Declaration{
		Object: "luci.network",
		Method: "interfaces",
		Params: []string{"name"},
		Expect: &Expect{Key: "results", Default: []any{}},
		Filter: func(res any, args Args) any {
			var names []string
			for _, r := range res.([]any) {
				n := r.(map[string]any)["name"].(string)
				if n == args.String("name") {
					names = append(names, n)
				}
			}
			return names
		},
	})

	got, err := stub.Call(context.Background(), "wan")
	require.NoError(t, err)
	assert.Equal(t, []string{"wan"}, got)
}

func TestStub_CallInto(t *testing.T) {
	fc := &fakeCaller{result: map[string]any{"hostname": "gw", "model": "apu2"}}
	stub := Declare(fc, Declaration{Object: "system", Method: "board"})

	var info boardInfo
	require.NoError(t, stub.CallInto(context.Background(), &info))
	assert.Equal(t, boardInfo{Hostname: "gw", Model: "apu2"}, info)
}

func TestStub_ErrorAndResolveDefault(t *testing.T) {
	fc := &fakeCaller{err: &Error{Status: StatusTimeout}}
	stub := Declare(fc, Declaration{Object: "luci.diag", Method: "ping"})

	res, err := stub.Call(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)

	got := ResolveDefault(res, err, any("n/a"))
	assert.Equal(t, "n/a", got)

	assert.Equal(t, 5, ResolveDefault(5, nil, 0))
	assert.Equal(t, 0, ResolveDefault(5, errors.New("x"), 0))
}
