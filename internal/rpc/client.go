package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/luci/internal/brand"
)

// HTTPClient calls a remote bus through its /ubus endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
	nextID atomic.Int64

	mu  sync.RWMutex
	sid string
}

// NewHTTPClient creates a client for url, e.g. http://192.168.1.1/ubus.
// A nil hc selects a client with a 30 second timeout.
func NewHTTPClient(url string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{url: url, client: hc, sid: AnonymousSID}
}

// Session returns the session id sent with every call.
func (c *HTTPClient) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

// SetSession sets the session id sent with every call.
func (c *HTTPClient) SetSession(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sid = sid
}

// Login opens a session with session.login and keeps its id.
func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	res, err := c.Call(ctx, "session", "login", Args{"username": username, "password": password})
	if err != nil {
		return err
	}
	obj, _ := res.(map[string]any)
	sid, _ := obj["ubus_rpc_session"].(string)
	if sid == "" {
		return &Error{Object: "session", Method: "login", Status: StatusNoData}
	}
	c.SetSession(sid)
	return nil
}

// Call implements Caller.
func (c *HTTPClient) Call(ctx context.Context, object, method string, args Args) (any, error) {
	if args == nil {
		args = Args{}
	}
	var result []json.RawMessage
	if err := c.do(ctx, "call", []any{c.Session(), object, method, args}, &result); err != nil {
		return nil, wrap(object, method, err)
	}
	if len(result) == 0 {
		return nil, &Error{Object: object, Method: method, Status: StatusNoData}
	}

	var status int
	if err := json.Unmarshal(result[0], &status); err != nil {
		return nil, &Error{Object: object, Method: method, Status: StatusInvalidCommand, Message: err.Error()}
	}
	if status != int(StatusOK) {
		return nil, &Error{Object: object, Method: method, Status: Status(status)}
	}
	if len(result) < 2 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(result[1], &data); err != nil {
		return nil, &Error{Object: object, Method: method, Status: StatusInvalidCommand, Message: err.Error()}
	}
	return data, nil
}

// List returns the signatures of the remote objects.
func (c *HTTPClient) List(ctx context.Context, patterns ...string) (Signatures, error) {
	params := make([]any, 0, len(patterns))
	for _, p := range patterns {
		params = append(params, p)
	}
	var sigs Signatures
	if err := c.do(ctx, "list", params, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

func (c *HTTPClient) do(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Status: StatusConnectionFailed, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: StatusConnectionFailed, Message: resp.Status}
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  *responseError  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != nil {
		status := StatusInvalidCommand
		switch reply.Error.Code {
		case CodeAccessDenied:
			status = StatusPermissionDenied
		case CodeMethodNotFound:
			status = StatusMethodNotFound
		case CodeInvalidParams:
			status = StatusInvalidArgument
		}
		return &Error{Status: status, Message: reply.Error.Message}
	}
	return json.Unmarshal(reply.Result, out)
}
