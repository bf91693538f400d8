package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// AnonymousSID is the session id used before login.
const AnonymousSID = "00000000000000000000000000000000"

// JSON-RPC error codes used by the /ubus endpoint.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeAccessDenied   = -32002
)

// maxRequestBody bounds a /ubus request including batches.
const maxRequestBody = 4 << 20

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id,omitempty"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HTTPHandler serves the bus as JSON-RPC 2.0.
//
// Methods:
//
//	call  [sid, object, method, args] -> [status, data]
//	list  [pattern, ...]              -> {object: {method: {param: type}}}
type HTTPHandler struct {
	bus *Bus
}

// NewHTTPHandler returns the /ubus handler for bus.
func NewHTTPHandler(bus *Bus) *HTTPHandler {
	return &HTTPHandler{bus: bus}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeResponse(w, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			writeResponse(w, errorResponse(nil, CodeParseError, "Parse error"))
			return
		}
		if len(batch) == 0 {
			writeResponse(w, errorResponse(nil, CodeInvalidRequest, "Invalid request"))
			return
		}
		out := make([]response, 0, len(batch))
		for _, raw := range batch {
			out = append(out, h.handle(r.Context(), raw))
		}
		writeResponse(w, out)
		return
	}

	writeResponse(w, h.handle(r.Context(), body))
}

func (h *HTTPHandler) handle(ctx context.Context, raw json.RawMessage) response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParseError, "Parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid request")
	}

	switch req.Method {
	case "call":
		return h.call(ctx, req)
	case "list":
		return h.list(req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}
}

func (h *HTTPHandler) call(ctx context.Context, req request) response {
	if len(req.Params) < 3 {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid parameters")
	}
	var sid, object, method string
	for i, dst := range []*string{&sid, &object, &method} {
		if err := json.Unmarshal(req.Params[i], dst); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid parameters")
		}
	}
	args := Args{}
	if len(req.Params) > 3 && string(req.Params[3]) != "null" {
		if err := json.Unmarshal(req.Params[3], &args); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid parameters")
		}
	}

	res, err := h.bus.CallAs(ctx, sid, object, method, args)
	if err != nil {
		status := StatusOf(err)
		if errors.Is(err, ErrPermissionDenied) {
			return errorResponse(req.ID, CodeAccessDenied, "Access denied")
		}
		return response{JSONRPC: "2.0", ID: id(req.ID), Result: []any{int(status)}}
	}
	if res == nil {
		return response{JSONRPC: "2.0", ID: id(req.ID), Result: []any{int(StatusOK)}}
	}
	return response{JSONRPC: "2.0", ID: id(req.ID), Result: []any{int(StatusOK), res}}
}

func (h *HTTPHandler) list(req request) response {
	var patterns []string
	for _, p := range req.Params {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid parameters")
		}
		if s != "" {
			patterns = append(patterns, s)
		}
	}
	return response{JSONRPC: "2.0", ID: id(req.ID), Result: h.bus.List(patterns...)}
}

func id(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func errorResponse(reqID json.RawMessage, code int, msg string) response {
	return response{JSONRPC: "2.0", ID: id(reqID), Error: &responseError{Code: code, Message: msg}}
}

func writeResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
