package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteErrorCtx sends a localized JSON error response
func WriteErrorCtx(w http.ResponseWriter, r *http.Request, code int, format string, args ...any) {
	WriteError(w, code, i18n.T(r.Context(), format, args...))
}

// statusFor maps engine and bus errors to HTTP status codes.
func statusFor(err error) int {
	var verrs form.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, uci.ErrNotFound), errors.Is(err, rpc.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, form.ErrNotAddable), errors.Is(err, form.ErrMaxCount),
		errors.Is(err, form.ErrNotSortable), errors.Is(err, form.ErrPending):
		return http.StatusConflict
	case errors.Is(err, rpc.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, rpc.ErrInvalidArgument), errors.Is(err, uci.ErrInvalidName):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeValues reads submitted form values from a JSON object or a
// urlencoded body. JSON values may be strings, numbers, booleans or
// arrays of strings.
func decodeValues(r *http.Request) (map[string][]string, string, error) {
	if r.Header.Get("Content-Type") == "application/json" {
		var body struct {
			Action string         `json:"action"`
			Values map[string]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, "", err
		}
		out := make(map[string][]string, len(body.Values))
		for k, v := range body.Values {
			out[k] = toStrings(v)
		}
		return out, body.Action, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, "", err
	}
	action := ""
	switch {
	case r.PostForm.Has("cbi.reset"):
		action = "reset"
	case r.PostForm.Has("cbi.submit"):
		action = "save"
	}
	return r.PostForm, action, nil
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return []string{x}
	case bool:
		if x {
			return []string{"1"}
		}
		return []string{"0"}
	case float64:
		b, _ := json.Marshal(x)
		return []string{string(b)}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, toStrings(e)...)
		}
		return out
	}
	b, _ := json.Marshal(v)
	return []string{string(b)}
}
