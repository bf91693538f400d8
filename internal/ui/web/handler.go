// Package web serves the views over HTTP: JSON endpoints for scripted
// clients, server-rendered HTML pages, and a websocket that streams poll
// results and configuration events.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"grimm.is/luci/internal/auth"
	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/i18n"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
	"grimm.is/luci/internal/ui"
	"grimm.is/luci/internal/views"
)

//go:embed templates/*.html
var templateFS embed.FS

// FormCookie carries the id of the edit buffer of a browser.
const FormCookie = "luci_form"

// Guard wraps a handler with an access check for action ("view" or
// "modify").
type Guard func(action string, next http.Handler) http.Handler

// Options configures a Handler.
type Options struct {
	Views    *views.Registry
	Store    *uci.Store
	Bus      *rpc.Bus
	Hub      *events.Hub
	Sessions *form.Sessions
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Guard    Guard
}

// Handler provides HTTP handlers for the views.
type Handler struct {
	views    *views.Registry
	store    *uci.Store
	bus      *rpc.Bus
	hub      *events.Hub
	sessions *form.Sessions
	logger   *logging.Logger
	metrics  *metrics.Registry
	guard    Guard
	tmpl     *template.Template
}

// NewHandler creates a new web UI handler.
func NewHandler(opts Options) *Handler {
	if opts.Sessions == nil {
		opts.Sessions = form.NewSessions(0, nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Guard == nil {
		opts.Guard = func(_ string, next http.Handler) http.Handler { return next }
	}
	return &Handler{
		views:    opts.Views,
		store:    opts.Store,
		bus:      opts.Bus,
		hub:      opts.Hub,
		sessions: opts.Sessions,
		logger:   opts.Logger.WithComponent("web"),
		metrics:  opts.Metrics,
		guard:    opts.Guard,
		tmpl:     template.Must(template.New("").Funcs(templateFuncs(nil)).ParseFS(templateFS, "templates/*.html")),
	}
}

// RegisterRoutes registers UI routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	view := func(f http.HandlerFunc) http.Handler { return h.guard("view", f) }
	modify := func(f http.HandlerFunc) http.Handler { return h.guard("modify", f) }

	mux.Handle("GET /api/ui/menu", view(h.handleMenu))
	mux.Handle("GET /api/ui/map/{name}", view(h.handleGetMap))
	mux.Handle("POST /api/ui/map/{name}", modify(h.handleSaveMap))
	mux.Handle("POST /api/ui/map/{name}/section", modify(h.handleAddSection))
	mux.Handle("DELETE /api/ui/map/{name}/section/{sid}", modify(h.handleRemoveSection))
	mux.Handle("GET /api/ui/status/{name}", view(h.handleStatus))
	mux.Handle("GET /api/ui/log/{name}", view(h.handleLog))
	mux.Handle("GET /api/ui/ws", view(h.handleWS))

	mux.Handle("GET /ui/{name}", view(h.handlePage))
	mux.Handle("POST /ui/{name}", modify(h.handlePageSubmit))
	mux.HandleFunc("GET /login", h.handleLogin)
	mux.Handle("GET /{$}", view(h.handleIndex))
}

// caller performs bus calls with the session of the request.
type caller struct {
	bus *rpc.Bus
	sid string
}

func (c caller) Call(ctx context.Context, object, method string, args rpc.Args) (any, error) {
	return c.bus.CallAs(ctx, c.sid, object, method, args)
}

func (h *Handler) caller(r *http.Request) rpc.Caller {
	return caller{bus: h.bus, sid: auth.SessionID(r)}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*views.View, bool) {
	v, ok := h.views.Get(r.PathValue("name"))
	if !ok {
		WriteErrorCtx(w, r, http.StatusNotFound, "View not found")
		return nil, false
	}
	return v, true
}

// handleMenu returns the navigation menu structure.
func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ui.BuildMenu(r.Context(), h.views))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	for _, item := range ui.FlattenMenu(ui.BuildMenu(r.Context(), h.views)) {
		if item.Href != "" {
			http.Redirect(w, r, item.Href, http.StatusFound)
			return
		}
	}
	http.NotFound(w, r)
}

// openMap builds and loads the form of v with the edit buffer of the
// request. The buffer cookie is (re)issued when a new buffer was opened.
func (h *Handler) openMap(w http.ResponseWriter, r *http.Request, v *views.View) (*form.Map, *form.Session, error) {
	if v.Map == nil {
		return nil, nil, rpc.Errorf(rpc.StatusNotFound, "view %q has no form", v.Name)
	}
	m, err := v.BuildMap(h.store)
	if err != nil {
		return nil, nil, err
	}
	m.SetMetrics(h.metrics)
	if err := m.Load(r.Context()); err != nil {
		return nil, nil, err
	}

	var id string
	if c, err := r.Cookie(FormCookie); err == nil {
		id = c.Value
	}
	sess := h.sessions.Open(id, v.Name)
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     FormCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	return m, sess, nil
}

func (h *Handler) handleGetMap(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	m, sess, err := h.openMap(w, r, v)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to load form", err.Error())
		return
	}
	h.writeForm(w, r, m, sess, http.StatusOK)
}

func (h *Handler) writeForm(w http.ResponseWriter, r *http.Request, m *form.Map, sess *form.Session, status int) {
	fv, err := m.Render(r.Context(), sess)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to render form", err.Error())
		return
	}
	WriteJSON(w, status, fv)
}

// submit applies posted values to the buffer and runs the requested
// action. It returns the save error, if any.
func (h *Handler) submit(r *http.Request, m *form.Map, sess *form.Session, input map[string][]string, action string) error {
	if action == "reset" {
		m.Reset(sess)
		return nil
	}
	if err := m.Parse(sess, input); err != nil {
		return err
	}
	if action != "save" {
		return nil
	}
	if err := m.Save(r.Context(), sess); err != nil {
		return err
	}
	if h.hub != nil {
		h.hub.Notify("info", i18n.T(r.Context(), i18n.MsgSaved))
	}
	return nil
}

// handleSaveMap parses the posted values and saves the map. Invalid
// values are answered with 422 and the form carrying the errors.
func (h *Handler) handleSaveMap(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	m, sess, err := h.openMap(w, r, v)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to load form", err.Error())
		return
	}
	input, action, err := decodeValues(r)
	if err != nil {
		WriteErrorCtx(w, r, http.StatusBadRequest, "Invalid request")
		return
	}
	if action == "" {
		action = "save"
	}

	err = h.submit(r, m, sess, input, action)
	var verrs form.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		h.writeForm(w, r, m, sess, http.StatusUnprocessableEntity)
	case err != nil:
		h.logger.Warn("save failed", "view", v.Name, "error", err)
		WriteError(w, statusFor(err), "Failed to save", err.Error())
	default:
		h.writeForm(w, r, m, sess, http.StatusOK)
	}
}

type addRequest struct {
	Section string `json:"section"` // section key
	Name    string `json:"name,omitempty"`
}

// handleAddSection adds a record to the buffer.
func (h *Handler) handleAddSection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorCtx(w, r, http.StatusBadRequest, "Invalid request")
		return
	}
	m, sess, err := h.openMap(w, r, v)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to load form", err.Error())
		return
	}
	var sec *form.Section
	for _, s := range m.Sections {
		if s.Key() == req.Section {
			sec = s
			break
		}
	}
	if sec == nil {
		WriteError(w, http.StatusNotFound, "Section not found", req.Section)
		return
	}
	sid, err := sec.Add(sess, req.Name)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to add section", err.Error())
		return
	}
	fv, err := m.Render(r.Context(), sess)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to render form", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"sid": sid, "form": fv})
}

// handleRemoveSection marks a record removed in the buffer.
func (h *Handler) handleRemoveSection(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	m, sess, err := h.openMap(w, r, v)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to load form", err.Error())
		return
	}
	cfg := r.URL.Query().Get("config")
	if cfg == "" {
		cfg = m.Config
	}
	sid := r.PathValue("sid")
	sec := m.SectionOf(sess, cfg, sid)
	if sec == nil {
		WriteError(w, http.StatusNotFound, "Section not found", sid)
		return
	}
	if err := sec.Remove(sess, sid); err != nil {
		WriteError(w, statusFor(err), "Failed to remove section", err.Error())
		return
	}
	h.writeForm(w, r, m, sess, http.StatusOK)
}

// handleStatus returns the status tables of a view.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if len(v.Status) == 0 {
		WriteErrorCtx(w, r, http.StatusNotFound, "View has no status tables")
		return
	}
	pd := &ui.PageData{}
	pd.FetchTables(r.Context(), v, h.caller(r))
	WriteJSON(w, http.StatusOK, map[string]any{"tables": pd.Tables, "errors": pd.Errors})
}

// handleLog returns the tail of a log view. ?lines= overrides the view's
// line count.
func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if v.Log == nil {
		WriteErrorCtx(w, r, http.StatusNotFound, "View has no log")
		return
	}
	lines, _ := strconv.Atoi(r.URL.Query().Get("lines"))
	entries, err := ui.TailLog(r.Context(), h.caller(r), v.Name, lines)
	if err != nil {
		WriteError(w, statusFor(err), "Failed to read log", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, ui.LogPane{Entries: entries, Interval: v.Log.PollInterval().Seconds()})
}

func userInfo(r *http.Request) *ui.UserInfo {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		return nil
	}
	return &ui.UserInfo{Username: sess.Username, Role: string(sess.Role)}
}

// page assembles the page of v. A non-nil sess renders the form with
// that buffer.
func (h *Handler) page(r *http.Request, v *views.View, m *form.Map, sess *form.Session) (*ui.PageData, error) {
	ctx := r.Context()
	pd := ui.NewPageData(ctx, h.views, v, userInfo(r))
	if m != nil {
		fv, err := m.Render(ctx, sess)
		if err != nil {
			return nil, err
		}
		pd.Form = fv
	}
	if len(v.Status) > 0 {
		pd.FetchTables(ctx, v, h.caller(r))
	}
	if v.Log != nil {
		if err := pd.FetchLog(ctx, v, h.caller(r)); err != nil {
			return nil, err
		}
	}
	return pd, nil
}

// handlePage renders the HTML page of a view.
func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	v, ok := h.views.Get(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	var (
		m    *form.Map
		sess *form.Session
		err  error
	)
	if v.Map != nil {
		if m, sess, err = h.openMap(w, r, v); err != nil {
			h.renderError(w, r, err)
			return
		}
	}
	pd, err := h.page(r, v, m, sess)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "page.html", pd)
}

// handlePageSubmit handles the HTML form post: record actions, reset, and
// save when the save button was pressed.
func (h *Handler) handlePageSubmit(w http.ResponseWriter, r *http.Request) {
	v, ok := h.views.Get(r.PathValue("name"))
	if !ok || v.Map == nil {
		http.NotFound(w, r)
		return
	}
	m, sess, err := h.openMap(w, r, v)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	input, action, err := decodeValues(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if action == "" {
		action = "parse"
	}

	status := http.StatusOK
	notice := ""
	err = h.submit(r, m, sess, input, action)
	var verrs form.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		status = http.StatusUnprocessableEntity
		notice = i18n.T(r.Context(), i18n.MsgInvalidFields)
	case err != nil:
		h.renderError(w, r, err)
		return
	case action == "save":
		notice = i18n.T(r.Context(), i18n.MsgSaved)
	}

	pd, err := h.page(r, v, m, sess)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	pd.Notice = notice
	h.render(w, r, status, "page.html", pd)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}
	h.render(w, r, http.StatusOK, "login.html", map[string]any{"Next": next})
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("page failed", "path", r.URL.Path, "error", err)
	http.Error(w, err.Error(), statusFor(err))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	tmpl, err := h.tmpl.Clone()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tmpl.Funcs(templateFuncs(r))

	var buf strings.Builder
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("template failed", "template", name, "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, buf.String())
}

func templateFuncs(r *http.Request) template.FuncMap {
	t := func(s string, args ...any) string { return s }
	if r != nil {
		t = func(s string, args ...any) string { return i18n.T(r.Context(), s, args...) }
	}
	return template.FuncMap{
		"t": t,
		// cbe is the marker key posted with every checkbox so that an
		// unchecked flag can be told apart from an absent one.
		"cbe": func(id string) string { return "cbi.cbe." + strings.TrimPrefix(id, "cbid.") },
		"cts": func(s form.SectionView) string { return "cbi.cts." + s.Config + "." + s.Key },
		"rts": func(s form.SectionView, sid string) string { return "cbi.rts." + s.Config + "." + sid },
		"widget": func(f form.Field) string { return string(f.Widget) },
	}
}
