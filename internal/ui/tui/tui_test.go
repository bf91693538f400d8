package tui

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
	"grimm.is/luci/internal/views"
)

const systemText = `
config system
	option hostname 'OpenWrt'

config timeserver 'ntp'
	option enabled '1'
	list server '0.openwrt.pool.ntp.org'
`

func sampleView(t *testing.T, name string) *views.View {
	t.Helper()
	r, err := views.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	v, ok := r.Get(name)
	if !ok {
		t.Fatalf("no sample view %q", name)
	}
	return v
}

func systemMap(t *testing.T) (*form.Map, *uci.Store) {
	t.Helper()
	store := uci.NewStore(uci.NewMemoryBackend(map[string]string{"system": systemText}))
	m, err := sampleView(t, "system").BuildMap(store)
	if err != nil {
		t.Fatalf("BuildMap: %v", err)
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m, store
}

func (b *Bindings) find(name string) *binding {
	for i := range b.fields {
		if b.fields[i].field.Name == name {
			return &b.fields[i]
		}
	}
	return nil
}

func TestBuildForm(t *testing.T) {
	ctx := context.Background()
	m, _ := systemMap(t)
	v, err := m.Render(ctx, form.NewSession("system"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	f, b := BuildForm(ctx, v)
	if f == nil {
		t.Fatal("expected a form")
	}
	for _, name := range []string{"hostname", "zonename", "enabled", "enable_server", "server"} {
		if b.find(name) == nil {
			t.Errorf("field %s missing", name)
		}
	}
	// log_port depends on log_ip being set.
	if b.find("log_port") != nil {
		t.Error("log_port should be hidden")
	}
	if in := b.Input(); len(in) != 0 {
		t.Errorf("untouched form produced input %v", in)
	}
}

func TestBuildForm_Empty(t *testing.T) {
	f, b := BuildForm(context.Background(), &form.View{Name: "empty"})
	if f != nil || len(b.fields) != 0 {
		t.Error("expected no form")
	}
}

func TestBindings_Input(t *testing.T) {
	ctx := context.Background()
	m, _ := systemMap(t)
	v, _ := m.Render(ctx, form.NewSession("system"))
	_, b := BuildForm(ctx, v)

	host := b.find("hostname")
	*host.str = "router"
	enabled := b.find("enabled")
	*enabled.on = false
	servers := b.find("server")
	*servers.str = "a.pool\n\n  b.pool \n"

	in := b.Input()
	if got := in[host.field.ID]; !slices.Equal(got, []string{"router"}) {
		t.Errorf("hostname = %v", got)
	}
	marker := "cbi.cbe." + strings.TrimPrefix(enabled.field.ID, "cbid.")
	if _, ok := in[marker]; !ok {
		t.Errorf("missing unchecked marker %s in %v", marker, in)
	}
	if _, ok := in[enabled.field.ID]; ok {
		t.Error("unchecked flag should not submit a value")
	}
	if got := in[servers.field.ID]; !slices.Equal(got, []string{"a.pool", "b.pool"}) {
		t.Errorf("server = %v", got)
	}
	if len(in) != 3 {
		t.Errorf("input = %v", in)
	}
}

func TestCheckOne(t *testing.T) {
	ctx := context.Background()
	check := checkOne(ctx, form.Field{Datatype: "port", Required: true})
	if err := check(""); err == nil {
		t.Error("empty required value accepted")
	}
	if err := check("70000"); err == nil {
		t.Error("out of range port accepted")
	}
	if err := check("22"); err != nil {
		t.Errorf("valid port rejected: %v", err)
	}
	if err := checkOne(ctx, form.Field{Datatype: "port"})(""); err != nil {
		t.Errorf("empty optional value rejected: %v", err)
	}
}

func TestEdit_RetriesInvalidSave(t *testing.T) {
	ctx := context.Background()
	m, store := systemMap(t)
	sess := form.NewSession("system")

	var sid string
	runs := 0
	err := Edit(ctx, m, sess, func(_ context.Context, _ *huh.Form, b *Bindings) error {
		runs++
		host := b.find("hostname")
		sid = strings.Split(host.field.ID, ".")[2]
		if runs == 1 {
			*host.str = "bad host!"
			return nil
		}
		if host.field.Error == "" {
			t.Error("second run should show the rejection")
		}
		*host.str = "router"
		return nil
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
	if val, _ := store.Get(ctx, "system", sid, "hostname"); val.String() != "router" {
		t.Errorf("hostname = %q, want router", val)
	}
}

func TestEdit_RevealsDependents(t *testing.T) {
	ctx := context.Background()
	m, store := systemMap(t)

	var sid string
	runs := 0
	err := Edit(ctx, m, form.NewSession("system"), func(_ context.Context, _ *huh.Form, b *Bindings) error {
		runs++
		switch runs {
		case 1:
			ip := b.find("log_ip")
			sid = strings.Split(ip.field.ID, ".")[2]
			*ip.str = "192.168.1.10"
		case 2:
			port := b.find("log_port")
			if port == nil {
				t.Fatal("log_port not revealed")
			}
			*port.str = "5140"
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
	if val, _ := store.Get(ctx, "system", sid, "log_port"); val.String() != "5140" {
		t.Errorf("log_port = %q", val)
	}
}

func TestEdit_Aborted(t *testing.T) {
	m, _ := systemMap(t)
	err := Edit(context.Background(), m, form.NewSession("system"), func(context.Context, *huh.Form, *Bindings) error {
		return huh.ErrUserAborted
	})
	if !errors.Is(err, huh.ErrUserAborted) {
		t.Errorf("err = %v", err)
	}
}

type fakeCaller struct {
	calls int
	fail  bool
}

func (c *fakeCaller) Call(_ context.Context, object, method string, args rpc.Args) (any, error) {
	c.calls++
	if c.fail {
		return nil, rpc.Errorf(rpc.StatusNotFound, "object %s not found", object)
	}
	switch object + "." + method {
	case "luci.wireguard.status":
		return map[string]any{
			"interfaces": []any{map[string]any{"name": "wg0", "public_key": "abc=", "listen_port": 51820.0, "peers": 1.0}},
			"peers":      []any{},
		}, nil
	case "luci.log.tail":
		return map[string]any{"entries": []any{
			map[string]any{"timestamp": "2026-01-02T03:04:05Z", "level": "err", "source": "kernel", "message": "link down"},
			map[string]any{"timestamp": "2026-01-02T03:04:06Z", "level": "info", "source": "netifd", "message": "link up"},
		}}, nil
	}
	return nil, rpc.Errorf(rpc.StatusNotFound, "method %s.%s not found", object, method)
}

func TestStatusModel(t *testing.T) {
	ctx := context.Background()
	v := sampleView(t, "wireguard-status")
	caller := &fakeCaller{}
	m := NewStatusModel(ctx, v, caller)

	msg := m.Init()()
	model, cmd := m.Update(msg)
	if cmd == nil {
		t.Error("expected a refresh tick")
	}
	m = model.(StatusModel)

	rows := m.Rows(0)
	if len(rows) != 1 || rows[0][0] != "wg0" {
		t.Fatalf("interfaces = %v", rows)
	}
	if len(m.Rows(1)) != 0 {
		t.Errorf("peers = %v", m.Rows(1))
	}
	out := m.View()
	if !strings.Contains(out, "WireGuard") || !strings.Contains(out, "wg0") {
		t.Errorf("view:\n%s", out)
	}

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if model.(StatusModel).focused != 1 {
		t.Error("tab should move focus to the second table")
	}
}

func TestStatusModel_Error(t *testing.T) {
	ctx := context.Background()
	m := NewStatusModel(ctx, sampleView(t, "wireguard-status"), &fakeCaller{fail: true})
	model, _ := m.Update(m.Init()())
	out := model.(StatusModel).View()
	if !strings.Contains(out, "luci.wireguard") {
		t.Errorf("error not shown:\n%s", out)
	}
}

func TestLogModel(t *testing.T) {
	ctx := context.Background()
	caller := &fakeCaller{}
	m := NewLogModel(ctx, sampleView(t, "syslog"), caller, 50)

	model, cmd := m.Update(m.Init()())
	if cmd == nil {
		t.Error("expected a refresh tick")
	}
	lm := model.(LogModel)
	if len(lm.entries) != 2 {
		t.Fatalf("entries = %+v", lm.entries)
	}
	out := lm.View()
	for _, want := range []string{"System Log", "link down", "kernel:"} {
		if !strings.Contains(out, want) {
			t.Errorf("view lacks %q:\n%s", want, out)
		}
	}

	// A tick triggers the next fetch.
	_, cmd = lm.Update(tickMsg{})
	if cmd == nil {
		t.Fatal("tick should fetch")
	}
	cmd()
	if caller.calls != 2 {
		t.Errorf("calls = %d, want 2", caller.calls)
	}

	if _, cmd := lm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("q should quit")
	}
}

func TestLevelStyle(t *testing.T) {
	cases := map[string]lipgloss.Style{
		"err":     StyleLevelError,
		"ERROR":   StyleLevelError,
		"crit":    StyleLevelError,
		"warning": StyleLevelWarn,
		"debug":   StyleLevelDebug,
		"notice":  StyleLevelInfo,
	}
	for level, want := range cases {
		if got := levelStyle(level); got.GetForeground() != want.GetForeground() {
			t.Errorf("%s: foreground = %v, want %v", level, got.GetForeground(), want.GetForeground())
		}
	}
}
