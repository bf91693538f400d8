package views

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/luci/internal/form"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
)

func TestSamples_Load(t *testing.T) {
	r, err := Samples()
	require.NoError(t, err)

	for _, name := range []string{"system", "dropbear", "firewall-redirects", "wireguard-status", "syslog", "luci-log", "network-status"} {
		v, ok := r.Get(name)
		require.True(t, ok, "sample view %s missing", name)
		assert.NotEmpty(t, v.Title)
		assert.NotEmpty(t, v.Source)
	}

	v, _ := r.Get("system")
	assert.Equal(t, "form", v.Kind())
	hostname, _ := os.Hostname()
	assert.Equal(t, hostname, v.Map.Sections[0].Options[0].Placeholder, "placeholder comes from the eval context")

	v, _ = r.Get("syslog")
	assert.Equal(t, "log", v.Kind())
	assert.Equal(t, 5*time.Second, v.Log.PollInterval())

	v, _ = r.Get("wireguard-status")
	assert.Equal(t, "status", v.Kind())
	require.Len(t, v.Status, 2)
	assert.Equal(t, "peers", v.Status[1].Expect)
}

func TestRegistry_AllOrder(t *testing.T) {
	r, err := Samples()
	require.NoError(t, err)

	var names []string
	for _, v := range r.All() {
		if v.Menu != nil && v.Menu.Parent == "system" {
			names = append(names, v.Name)
		}
	}
	assert.Equal(t, []string{"system", "dropbear"}, names)
}

const badView = `
view "broken" {
  title = "Broken"
  map "system" {
    section "system" {
      template = "carousel"
      option "a" {
        widget = "slider"
      }
      option "b" {
        datatype = "range(1"
      }
      option "c" {
        depends = [{ missing = "1" }]
      }
      option "d" {
        widget = "list"
      }
    }
  }
  log {
    source = "journal"
    filter = "("
  }
}
`

func TestParse_ReportsEveryError(t *testing.T) {
	_, err := Parse([]byte(badView), "broken.hcl")
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`broken.hcl: view "broken"`,
		`unknown template "carousel"`,
		`unknown widget "slider"`,
		`datatype "range(1"`,
		`depends on undeclared option "missing"`,
		`list widget needs choices`,
		`unknown source "journal"`,
		`log: filter`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse([]byte(`view "x" {`), "x.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCL parse error")
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	view := `view "dup" {
  title = "Dup"
  log {
    source = "app"
  }
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(view), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(view), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `view "dup" defined in`)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.hcl")))
	r, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

const firewallText = `
config redirect
	option name 'web'
	option target 'DNAT'
	option proto 'tcp'
	option src 'wan'
	option src_dport '8080'
	option dest_ip '192.168.1.10'

config redirect
	option name 'masq'
	option target 'SNAT'
`

func TestBuildMap_FirewallRedirects(t *testing.T) {
	ctx := context.Background()
	r, err := Samples()
	require.NoError(t, err)
	v, _ := r.Get("firewall-redirects")

	store := uci.NewStore(uci.NewMemoryBackend(map[string]string{"firewall": firewallText}))
	m, err := v.BuildMap(store)
	require.NoError(t, err)
	m.SetMetrics(metrics.New())
	require.NoError(t, m.Load(ctx))

	s := m.Sections[0]
	require.Len(t, s.Cfgsections(), 1, "SNAT rules are filtered out")
	assert.Equal(t, form.TemplateGrid, s.Template)

	sess := form.NewSession(m.Name)
	sid, err := s.Add(sess, "")
	require.NoError(t, err)

	err = m.Save(ctx, sess)
	var verrs form.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	_, ok := verrs.For(sid, "dest_ip")
	assert.True(t, ok, "dest_ip is required on new forwards")

	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.firewall." + sid + ".name":      {"nas"},
		"cbid.firewall." + sid + ".proto":     {"tcp"},
		"cbid.firewall." + sid + ".dest_ip":   {"192.168.1.20"},
		"cbid.firewall." + sid + ".src_dport": {"5000"},
	}))
	require.NoError(t, m.Save(ctx, sess))

	secs, err := store.Sections(ctx, "firewall", "redirect")
	require.NoError(t, err)
	require.Len(t, secs, 3)
	rec := secs[2].Record()
	assert.Equal(t, "DNAT", rec["target"])
	assert.Equal(t, "wan", rec["src"])
	assert.Equal(t, "192.168.1.20", rec["dest_ip"])
}

func TestRecordFilter_Negation(t *testing.T) {
	f := recordFilter(map[string]string{"target": "!SNAT", "src": "wan"})
	assert.True(t, f("", map[string]string{"target": "DNAT", "src": "wan"}))
	assert.False(t, f("", map[string]string{"target": "SNAT", "src": "wan"}))
	assert.False(t, f("", map[string]string{"target": "DNAT", "src": "lan"}))
}

type fakeCaller struct {
	reply any
	err   error
	args  rpc.Args
}

func (f *fakeCaller) Call(_ context.Context, _, _ string, args rpc.Args) (any, error) {
	f.args = args
	return f.reply, f.err
}

func TestStatusDef_Fetch(t *testing.T) {
	s := &StatusDef{
		Name:   "peers",
		Object: "luci.wireguard",
		Method: "status",
		Expect: "peers",
		Args:   map[string]string{"device": "wg0"},
		Columns: []*ColumnDef{
			{Key: "public_key", Title: "Key"},
			{Key: "rx_bytes", Format: "bytes"},
			{Key: "latest_handshake", Format: "ago"},
			{Key: "allowed_ips"},
		},
	}
	caller := &fakeCaller{reply: map[string]any{
		"peers": []any{
			map[string]any{"public_key": "abc=", "rx_bytes": 2048.0, "latest_handshake": 0.0, "allowed_ips": []any{"10.0.0.2/32", "fd00::2/128"}},
			"garbage",
		},
	}}

	table, err := s.Fetch(context.Background(), caller)
	require.NoError(t, err)
	assert.Equal(t, "wg0", caller.args["device"])
	assert.Equal(t, []string{"Key", "rx_bytes", "latest_handshake", "allowed_ips"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"abc=", "2.0 KiB", "never", "10.0.0.2/32, fd00::2/128"}, table.Rows[0])

	// A reply of the wrong shape renders as an empty table.
	caller.reply = map[string]any{"peers": "oops"}
	table, err = s.Fetch(context.Background(), caller)
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
}

type peerRow struct {
	PublicKey string   `json:"public_key"`
	RxBytes   uint64   `json:"rx_bytes"`
	Allowed   []string `json:"allowed_ips"`
}

func TestStatusDef_FetchTypedRows(t *testing.T) {
	s := &StatusDef{
		Name:   "peers",
		Object: "luci.wireguard",
		Method: "status",
		Expect: "peers",
		Columns: []*ColumnDef{
			{Key: "public_key"},
			{Key: "rx_bytes", Format: "bytes"},
			{Key: "allowed_ips"},
		},
	}
	// In-process handlers reply with typed slices nested in a map.
	caller := &fakeCaller{reply: map[string]any{
		"peers": []peerRow{{PublicKey: "abc=", RxBytes: 2048, Allowed: []string{"10.0.0.2/32"}}},
	}}

	table, err := s.Fetch(context.Background(), caller)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"abc=", "2.0 KiB", "10.0.0.2/32"}, table.Rows[0])
}
