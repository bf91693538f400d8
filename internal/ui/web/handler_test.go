package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
	"grimm.is/luci/internal/ui"
	"grimm.is/luci/internal/views"
)

const systemText = `
config system
	option hostname 'OpenWrt'

config timeserver 'ntp'
	option enabled '1'
	list server '0.openwrt.pool.ntp.org'
`

const dropbearText = `
config dropbear
	option PasswordAuth 'on'
	option Port '22'
`

type fixture struct {
	h     *Handler
	mux   *http.ServeMux
	store *uci.Store
	hub   *events.Hub
	bus   *rpc.Bus
}

func newFixture(t *testing.T, guard Guard) *fixture {
	t.Helper()
	r, err := views.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	store := uci.NewStore(uci.NewMemoryBackend(map[string]string{
		"system":   systemText,
		"dropbear": dropbearText,
	}))
	hub := events.NewHub()
	bus := rpc.NewBus()
	bus.SetMetrics(metrics.New())

	mustRegister(t, bus, "luci.wireguard", rpc.Object{
		"status": {ReadOnly: true, Handler: func(context.Context, rpc.Args) (any, error) {
			return map[string]any{
				"interfaces": []any{map[string]any{"name": "wg0", "public_key": "abc=", "listen_port": 51820.0, "peers": 1.0}},
				"peers":      []any{},
			}, nil
		}},
	})
	mustRegister(t, bus, "luci.log", rpc.Object{
		"tail": {ReadOnly: true, Params: map[string]string{"view": rpc.TypeString, "lines": rpc.TypeNumber},
			Handler: func(_ context.Context, args rpc.Args) (any, error) {
				if args.String("view") != "syslog" {
					return nil, rpc.Errorf(rpc.StatusNotFound, "no view")
				}
				return map[string]any{"entries": []any{
					map[string]any{"timestamp": "2026-01-02T03:04:05Z", "level": "info", "source": "syslog", "message": "daemon started"},
				}}, nil
			}},
	})

	h := NewHandler(Options{
		Views:    r,
		Store:    store,
		Bus:      bus,
		Hub:      hub,
		Sessions: form.NewSessions(time.Minute, nil),
		Metrics:  metrics.New(),
		Guard:    guard,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &fixture{h: h, mux: mux, store: store, hub: hub, bus: bus}
}

func mustRegister(t *testing.T, bus *rpc.Bus, name string, obj rpc.Object) {
	t.Helper()
	if err := bus.Register(name, obj); err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
}

func (f *fixture) do(method, target string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, target, nil)
	case url.Values:
		req = httptest.NewRequest(method, target, strings.NewReader(b.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		data, _ := json.Marshal(b)
		req = httptest.NewRequest(method, target, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func formCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == FormCookie {
			return c
		}
	}
	t.Fatal("no form cookie set")
	return nil
}

func decodeForm(t *testing.T, w *httptest.ResponseRecorder) form.View {
	t.Helper()
	var v form.View
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode form: %v", err)
	}
	return v
}

func TestHandler_Menu(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/menu", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 OK, got %d", w.Code)
	}
	var menu []ui.MenuItem
	if err := json.NewDecoder(w.Body).Decode(&menu); err != nil {
		t.Fatalf("Failed to decode menu: %v", err)
	}
	if ui.FindMenuItem(menu, "system") == nil {
		t.Error("menu lacks the system view")
	}
}

func TestHandler_Index(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/", nil, nil)
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/ui/") {
		t.Errorf("index = %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestHandler_GetMap(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/map/system", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 OK, got %d: %s", w.Code, w.Body)
	}
	formCookie(t, w)
	v := decodeForm(t, w)
	if v.Name != "system" || len(v.Sections) != 2 {
		t.Fatalf("form = %+v", v)
	}
	if got := v.Sections[0].Rows[0].Fields[0].Value; got != "OpenWrt" {
		t.Errorf("hostname = %q", got)
	}
}

func TestHandler_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	for _, target := range []string{"/api/ui/map/nope", "/api/ui/map/syslog", "/api/ui/status/system", "/api/ui/log/system"} {
		if w := f.do("GET", target, nil, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", target, w.Code)
		}
	}
}

func TestHandler_SaveMap(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/map/system", nil, nil)
	cookie := formCookie(t, w)
	sid := decodeForm(t, w).Sections[0].Rows[0].SID
	field := "cbid.system." + sid + ".hostname"

	// Invalid values are rejected and nothing is written.
	w = f.do("POST", "/api/ui/map/system", map[string]any{"values": map[string]any{field: "bad host!"}}, cookie)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", w.Code, w.Body)
	}
	v := decodeForm(t, w)
	if _, ok := v.Errors.For(sid, "hostname"); !ok {
		t.Errorf("errors = %v", v.Errors)
	}
	if val, _ := f.store.Get(context.Background(), "system", sid, "hostname"); val.String() != "OpenWrt" {
		t.Errorf("hostname written despite error: %q", val)
	}

	notes := f.hub.Subscribe(4, events.EventNotify)
	defer f.hub.Unsubscribe(notes)

	w = f.do("POST", "/api/ui/map/system", map[string]any{"values": map[string]any{field: "router"}}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	if val, _ := f.store.Get(context.Background(), "system", sid, "hostname"); val.String() != "router" {
		t.Errorf("hostname = %q, want router", val)
	}
	if decodeForm(t, w).Dirty {
		t.Error("buffer should be clean after save")
	}
	select {
	case e := <-notes:
		if e.Data.(events.NotifyData).Level != "info" {
			t.Errorf("notify = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Error("no notification after save")
	}
}

func TestHandler_SaveMap_Reset(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/map/system", nil, nil)
	cookie := formCookie(t, w)
	sid := decodeForm(t, w).Sections[0].Rows[0].SID
	field := "cbid.system." + sid + ".hostname"

	w = f.do("POST", "/api/ui/map/system", map[string]any{"action": "parse", "values": map[string]any{field: "edited"}}, cookie)
	if v := decodeForm(t, w); !v.Dirty || v.Sections[0].Rows[0].Fields[0].Value != "edited" {
		t.Fatalf("parse should buffer the edit: %+v", v.Sections[0].Rows[0].Fields[0])
	}
	w = f.do("POST", "/api/ui/map/system", map[string]any{"action": "reset"}, cookie)
	if v := decodeForm(t, w); v.Dirty || v.Sections[0].Rows[0].Fields[0].Value != "OpenWrt" {
		t.Error("reset should drop the buffer")
	}
}

func TestHandler_AddRemoveSection(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/map/dropbear", nil, nil)
	cookie := formCookie(t, w)
	if rows := decodeForm(t, w).Sections[0].Rows; len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}

	w = f.do("POST", "/api/ui/map/dropbear/section", map[string]any{"section": "0"}, cookie)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body)
	}
	var added struct {
		SID  string    `json:"sid"`
		Form form.View `json:"form"`
	}
	if err := json.NewDecoder(w.Body).Decode(&added); err != nil {
		t.Fatal(err)
	}
	if len(added.Form.Sections[0].Rows) != 2 || !added.Form.Sections[0].Rows[1].New {
		t.Fatalf("added rows = %+v", added.Form.Sections[0].Rows)
	}

	w = f.do("DELETE", "/api/ui/map/dropbear/section/"+added.SID, nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	if rows := decodeForm(t, w).Sections[0].Rows; len(rows) != 1 {
		t.Errorf("rows after remove = %d", len(rows))
	}

	// The system map's typed section does not allow adding.
	if w := f.do("POST", "/api/ui/map/system/section", map[string]any{"section": "0"}, nil); w.Code != http.StatusConflict {
		t.Errorf("add to fixed section: got %d, want 409", w.Code)
	}
	if w := f.do("POST", "/api/ui/map/system/section", map[string]any{"section": "9"}, nil); w.Code != http.StatusNotFound {
		t.Errorf("add to unknown section: got %d, want 404", w.Code)
	}
}

func TestHandler_Status(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/status/wireguard-status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	var body struct {
		Tables []views.Table `json:"tables"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tables) != 2 {
		t.Fatalf("tables = %d", len(body.Tables))
	}
	if row := body.Tables[0].Rows[0]; row[0] != "wg0" || row[2] != "51820" {
		t.Errorf("row = %v", row)
	}
}

func TestHandler_Log(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/log/syslog?lines=10", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	var pane ui.LogPane
	if err := json.NewDecoder(w.Body).Decode(&pane); err != nil {
		t.Fatal(err)
	}
	if len(pane.Entries) != 1 || pane.Entries[0].Message != "daemon started" || pane.Interval != 5 {
		t.Errorf("pane = %+v", pane)
	}
}

func TestHandler_Page(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/ui/system", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body)
	}
	body := w.Body.String()
	for _, want := range []string{"System Properties", `value="OpenWrt"`, `name="cbi.submit"`, "cbi.cbe.system.ntp.enabled"} {
		if !strings.Contains(body, want) {
			t.Errorf("page lacks %q", want)
		}
	}

	w = f.do("GET", "/ui/wireguard-status", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "wg0") {
		t.Errorf("status page = %d", w.Code)
	}
	w = f.do("GET", "/ui/syslog", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "daemon started") {
		t.Errorf("log page = %d", w.Code)
	}
}

func TestHandler_PageSubmit(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/api/ui/map/system", nil, nil)
	cookie := formCookie(t, w)
	sid := decodeForm(t, w).Sections[0].Rows[0].SID
	field := "cbid.system." + sid + ".hostname"

	// Without the save button the edit stays in the buffer.
	w = f.do("POST", "/ui/system", url.Values{field: {"edited"}}, cookie)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `value="edited"`) {
		t.Fatalf("parse only: %d", w.Code)
	}
	if val, _ := f.store.Get(context.Background(), "system", sid, "hostname"); val.String() != "OpenWrt" {
		t.Error("parse only must not write")
	}

	w = f.do("POST", "/ui/system", url.Values{field: {"bad host!"}, "cbi.submit": {"1"}}, cookie)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), "Some fields are invalid") {
		t.Errorf("invalid submit = %d", w.Code)
	}

	w = f.do("POST", "/ui/system", url.Values{field: {"router"}, "cbi.submit": {"1"}}, cookie)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Configuration has been applied.") {
		t.Errorf("submit = %d", w.Code)
	}
	if val, _ := f.store.Get(context.Background(), "system", sid, "hostname"); val.String() != "router" {
		t.Errorf("hostname = %q", val)
	}
}

func TestHandler_Guard(t *testing.T) {
	readOnly := func(action string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if action != "view" {
				WriteError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	f := newFixture(t, readOnly)
	if w := f.do("GET", "/api/ui/map/system", nil, nil); w.Code != http.StatusOK {
		t.Errorf("view: got %d", w.Code)
	}
	if w := f.do("POST", "/api/ui/map/system", map[string]any{}, nil); w.Code != http.StatusForbidden {
		t.Errorf("modify: got %d, want 403", w.Code)
	}
}

func TestHandler_Login(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/login?next=//evil.example", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "evil.example") {
		t.Error("off-site next must be dropped")
	}
}
