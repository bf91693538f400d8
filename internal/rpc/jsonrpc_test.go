package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, h http.Handler, body string) []byte {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ubus", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.Bytes()
}

func TestHTTPHandler_Call(t *testing.T) {
	h := NewHTTPHandler(newTestBus(t))

	body := post(t, h, `{"jsonrpc":"2.0","id":1,"method":"call","params":["`+AnonymousSID+`","system","echo",{"msg":"hi"}]}`)
	var resp struct {
		ID     int   `json:"id"`
		Result []any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 1, resp.ID)
	require.Len(t, resp.Result, 2)
	assert.EqualValues(t, 0, resp.Result[0])
	assert.Equal(t, "hi", resp.Result[1].(map[string]any)["msg"])

	body = post(t, h, `{"jsonrpc":"2.0","id":2,"method":"call","params":["x","system","fail",{}]}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, []any{float64(StatusNotFound)}, resp.Result)
}

func TestHTTPHandler_Errors(t *testing.T) {
	h := NewHTTPHandler(newTestBus(t))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse", `{`, CodeParseError},
		{"version", `{"id":1,"method":"call","params":[]}`, CodeInvalidRequest},
		{"method", `{"jsonrpc":"2.0","id":1,"method":"exec","params":[]}`, CodeMethodNotFound},
		{"params", `{"jsonrpc":"2.0","id":1,"method":"call","params":["sid"]}`, CodeInvalidParams},
		{"empty batch", `[]`, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp response
			require.NoError(t, json.Unmarshal(post(t, h, tt.body), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/ubus", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPHandler_AccessDenied(t *testing.T) {
	bus := newTestBus(t)
	bus.SetAuthorizer(&denyWrites{})
	h := NewHTTPHandler(bus)

	var resp response
	body := post(t, h, `{"jsonrpc":"2.0","id":7,"method":"call","params":["`+AnonymousSID+`","system","board",{}]}`)
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeAccessDenied, resp.Error.Code)
	assert.JSONEq(t, "7", string(resp.ID))
}

func TestHTTPHandler_BatchAndList(t *testing.T) {
	h := NewHTTPHandler(newTestBus(t))

	body := post(t, h, `[
		{"jsonrpc":"2.0","id":1,"method":"call","params":["s","system","board",{}]},
		{"jsonrpc":"2.0","id":2,"method":"list","params":["sys*"]}
	]`)
	var resp []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp, 2)

	var list struct {
		Result Signatures `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp[1], &list))
	assert.Contains(t, list.Result, "system")
	assert.Equal(t, "number", list.Result["system"]["echo"]["n"])
}

func TestHTTPClient(t *testing.T) {
	bus := newTestBus(t)
	require.NoError(t, bus.Register("session", Object{
		"login": {Handler: func(ctx context.Context, args Args) (any, error) {
			if args.String("password") != "secret" {
				return nil, ErrPermissionDenied
			}
			return map[string]any{"ubus_rpc_session": "0123456789abcdef0123456789abcdef"}, nil
		}},
	}))
	srv := httptest.NewServer(NewHTTPHandler(bus))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	ctx := context.Background()
	assert.Equal(t, AnonymousSID, c.Session())

	require.Error(t, c.Login(ctx, "root", "wrong"))
	require.NoError(t, c.Login(ctx, "root", "secret"))
	assert.Equal(t, "0123456789abcdef0123456789abcdef", c.Session())

	res, err := c.Call(ctx, "system", "board", nil)
	require.NoError(t, err)
	assert.Equal(t, "OpenWrt", res.(map[string]any)["hostname"])

	_, err = c.Call(ctx, "system", "fail", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	sigs, err := c.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, sigs, "session")

	// Stubs work over HTTP as they do in process.
	stub := Declare(c, Declaration{Object: "system", Method: "board", Expect: &Expect{Key: "model", Default: ""}})
	model, err := stub.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x86", model)
}
