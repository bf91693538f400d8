package form

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/uci"
)

const systemText = `
config system
	option hostname 'OpenWrt'
	option timezone 'UTC'

config timeserver 'ntp'
	option enabled '1'
	list server '0.openwrt.pool.ntp.org'
	list server '1.openwrt.pool.ntp.org'
`

const firewallText = `
config redirect
	option name 'web'
	option target 'DNAT'
	option src_dport '80'

config redirect
	option name 'outbound'
	option target 'SNAT'

config redirect
	option name 'ssh'
	option target 'DNAT'
	option src_dport '22'

config zone
	option name 'lan'
`

func newTestStore(t *testing.T) (*uci.Store, *uci.MemoryBackend) {
	t.Helper()
	b := uci.NewMemoryBackend(map[string]string{
		"system":   systemText,
		"firewall": firewallText,
	})
	return uci.NewStore(b), b
}

func systemMap(store *uci.Store) *Map {
	m := NewMap(store, "system", "System", "")
	m.SetMetrics(metrics.New())

	s := m.TypedSection("system", "System Properties", "")
	s.Anonymous = true
	o := s.Option(Value, "hostname", "Hostname")
	o.Datatype = "hostname"
	o = s.Option(Value, "log_size", "System log buffer size")
	o.Datatype = "uinteger"
	o.Default = "64"
	o = s.Option(ListValue, "zonename", "Timezone")
	o.Value("UTC", "").Value("Europe/Berlin", "")
	o.Default = "UTC"

	ntp := m.NamedSection("ntp", "timeserver", "Time Synchronization", "")
	ntp.Option(Flag, "enabled", "Enable NTP client")
	srv := ntp.Option(DynamicList, "server", "NTP server candidates")
	srv.Datatype = "host"
	srv.DependOn("enabled", "1")
	return m
}

func field(t *testing.T, v *View, section int, sid, name string) Field {
	t.Helper()
	for _, r := range v.Sections[section].Rows {
		if r.SID != sid && sid != "" {
			continue
		}
		for _, f := range r.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	t.Fatalf("field %s of %q not rendered", name, sid)
	return Field{}
}

func TestMap_LoadMissingPackage(t *testing.T) {
	store, _ := newTestStore(t)
	m := NewMap(store, "nope", "", "")
	assert.ErrorIs(t, m.Load(context.Background()), uci.ErrNotFound)
}

func TestMap_DefaultRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := systemMap(store)
	require.NoError(t, m.Load(ctx))

	sess := NewSession(m.Name)
	v, err := m.Render(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "64", field(t, v, 0, "", "log_size").Value)
	assert.Equal(t, "OpenWrt", field(t, v, 0, "", "hostname").Value)
	assert.Equal(t, []string{"0.openwrt.pool.ntp.org", "1.openwrt.pool.ntp.org"}, field(t, v, 1, "ntp", "server").Values)

	require.NoError(t, m.Save(ctx, sess))
	assert.Zero(t, b.Saves(), "unedited map must not write")
	assert.Empty(t, store.Changes(""))

	v2, err := m.Render(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, v.Sections, v2.Sections)
}

func TestMap_RequiredDefaultIsWritten(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := NewMap(store, "system", "", "")
	m.SetMetrics(metrics.New())
	s := m.TypedSection("system", "", "")
	o := s.Option(Value, "log_size", "")
	o.Default = "64"
	o.Rmempty = false

	require.NoError(t, m.Load(ctx))
	require.NoError(t, m.Save(ctx, NewSession(m.Name)))
	assert.Equal(t, 1, b.Saves())
	assert.Contains(t, b.Text("system"), "option log_size '64'")
}

func TestMap_SaveAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := systemMap(store)
	require.NoError(t, m.Load(ctx))

	sid := m.Sections[0].Cfgsections()[0]
	sess := NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.system." + sid + ".hostname": {"router"},
		"cbid.system." + sid + ".log_size": {"lots"},
		"cbid.system.ntp.server":           {"pool.ntp.org", "", "time.example.com"},
	}))

	err := m.Save(ctx, sess)
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)
	require.Len(t, verrs, 1)
	assert.Equal(t, sid, verrs[0].Section)
	assert.Equal(t, "log_size", verrs[0].Option)

	assert.Zero(t, b.Saves())
	assert.Empty(t, store.Changes(""))
	got, err := store.Get(ctx, "system", sid, "hostname")
	require.NoError(t, err)
	assert.Equal(t, "OpenWrt", got.String())

	// The error is attached to the field and the edit is kept.
	v, err := m.Render(ctx, sess)
	require.NoError(t, err)
	f := field(t, v, 0, sid, "log_size")
	assert.NotEmpty(t, f.Error)
	assert.Equal(t, "lots", f.Value)
	assert.True(t, v.Dirty)

	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.system." + sid + ".log_size": {"128"},
	}))
	require.NoError(t, m.Save(ctx, sess))
	assert.Equal(t, 1, b.Saves(), "one commit per save")
	text := b.Text("system")
	assert.Contains(t, text, "option hostname 'router'")
	assert.Contains(t, text, "option log_size '128'")
	assert.Contains(t, text, "list server 'time.example.com'")
	assert.False(t, sess.Dirty())
}

func TestMap_HiddenOptionRemoved(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := systemMap(store)
	require.NoError(t, m.Load(ctx))

	sess := NewSession(m.Name)
	// Unchecked checkbox: only the presence marker is submitted.
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbi.cbe.system.ntp.enabled": {"1"},
	}))
	v, err := m.Render(ctx, sess)
	require.NoError(t, err)
	assert.False(t, field(t, v, 1, "ntp", "server").Visible)
	assert.False(t, field(t, v, 1, "ntp", "enabled").Checked())

	require.NoError(t, m.Save(ctx, sess))
	text := b.Text("system")
	assert.Contains(t, text, "option enabled '0'")
	assert.NotContains(t, text, "list server")
}

func TestMap_MultiValueCleared(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := NewMap(store, "firewall", "Firewall", "")
	m.SetMetrics(metrics.New())
	s := m.TypedSection("redirect", "Port Forwards", "")
	s.Anonymous = true
	o := s.Option(MultiValue, "proto", "Protocol")
	o.Value("tcp", "TCP").Value("udp", "UDP")
	require.NoError(t, m.Load(ctx))

	p, err := store.Package(ctx, "firewall")
	require.NoError(t, err)
	sid, err := p.Resolve("@redirect[0]")
	require.NoError(t, err)

	sess := NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.firewall." + sid + ".proto": {"tcp", "udp"},
	}))
	require.NoError(t, m.Save(ctx, sess))
	assert.Contains(t, b.Text("firewall"), "list proto 'udp'")

	// Nothing selected: the browser only posts the presence marker.
	sess = NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbi.cbe.firewall." + sid + ".proto": {"1"},
	}))
	require.NoError(t, m.Save(ctx, sess))
	assert.NotContains(t, b.Text("firewall"), "proto")

	// Without the marker the stored value is left alone.
	sess = NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.firewall." + sid + ".proto": {"tcp"},
	}))
	require.NoError(t, m.Save(ctx, sess))
	sess = NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{}))
	require.NoError(t, m.Save(ctx, sess))
	assert.Contains(t, b.Text("firewall"), "list proto 'tcp'")
}

func TestMap_HiddenOptionSkipsValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	m := systemMap(store)
	require.NoError(t, m.Load(ctx))

	sess := NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.system.ntp.enabled": {"0"},
		"cbid.system.ntp.server":  {"not a host!"},
	}))
	assert.Empty(t, m.Validate(sess))
}

func TestMap_Reset(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	m := systemMap(store)
	require.NoError(t, m.Load(ctx))

	sess := NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{"cbid.system.ntp.enabled": {"0"}}))
	assert.True(t, sess.Dirty())
	m.Reset(sess)
	assert.False(t, sess.Dirty())

	v, err := m.Render(ctx, sess)
	require.NoError(t, err)
	assert.True(t, field(t, v, 1, "ntp", "enabled").Checked())
}

func TestMap_ChainCommitsTogether(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := NewMap(store, "system", "", "")
	m.SetMetrics(metrics.New())
	m.Chain("firewall")

	sys := m.TypedSection("system", "", "")
	sys.Option(Value, "hostname", "")
	zones := m.TypedSection("zone", "", "")
	zones.Config = "firewall"
	zones.Option(Value, "name", "")

	var committed []string
	m.OnCommit(func(_ context.Context, pkgs []string) { committed = pkgs })

	require.NoError(t, m.Load(ctx))
	sysID := sys.Cfgsections()[0]
	zoneID := zones.Cfgsections()[0]

	sess := NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{
		"cbid.system." + sysID + ".hostname": {"edge"},
		"cbid.firewall." + zoneID + ".name":  {"trusted"},
	}))
	require.NoError(t, m.Save(ctx, sess))

	assert.Equal(t, []string{"system", "firewall"}, committed)
	assert.Contains(t, b.Text("system"), "'edge'")
	assert.Contains(t, b.Text("firewall"), "option name 'trusted'")
}

func TestMap_SaveHookAborts(t *testing.T) {
	ctx := context.Background()
	store, b := newTestStore(t)
	m := systemMap(store)
	hookErr := errors.New("service busy")
	m.OnSave(func(context.Context, map[string][]uci.Change) error { return hookErr })
	require.NoError(t, m.Load(ctx))

	sess := NewSession(m.Name)
	require.NoError(t, m.Parse(sess, map[string][]string{"cbid.system.ntp.enabled": {"0"}}))
	assert.ErrorIs(t, m.Save(ctx, sess), hookErr)
	assert.Zero(t, b.Saves())
	assert.Empty(t, store.Changes(""))
}
