package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// CookieName is the session cookie set by the web UI login.
const CookieName = "sysauth"

// Middleware provides HTTP middleware for authentication
type Middleware struct {
	acl *ACL
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(acl *ACL) *Middleware {
	return &Middleware{acl: acl}
}

// RequireRole wraps a handler to require a role allowed to perform action
// ("view" or "modify").
func (m *Middleware) RequireRole(action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.acl.Resolve(SessionID(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !sess.Role.CanAccess(action) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireAuth wraps a handler to require any valid session.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return m.RequireRole("view", next)
}

// SessionID extracts the session id from the cookie or a bearer token.
func SessionID(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler serves POST /api/auth/login.
func (m *Middleware) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
	} else {
		req.Username = r.PostFormValue("luci_username")
		req.Password = r.PostFormValue("luci_password")
	}

	sess, err := m.acl.store.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username and/or password")
		return
	}
	SetSessionCookie(w, r, sess)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.acl.reply(sess))
}

// LogoutHandler serves POST /api/auth/logout.
func (m *Middleware) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if id := SessionID(r); id != "" {
		m.acl.store.Destroy(id)
	}
	ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// SetSessionCookie sets the session cookie on a response
func SetSessionCookie(w http.ResponseWriter, r *http.Request, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
}

// ClearSessionCookie clears the session cookie
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
