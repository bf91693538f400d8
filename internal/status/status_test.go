package status

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/views"
)

func newBus(t *testing.T, name string, obj rpc.Object) *rpc.Bus {
	t.Helper()
	bus := rpc.NewBus()
	bus.SetMetrics(metrics.New())
	require.NoError(t, bus.Register(name, obj))
	return bus
}

var testInterfaces = []Interface{
	{Name: "eth0", Type: "device", Up: true, Carrier: true, Addresses: []string{"192.168.1.1/24"}, Driver: "igb", Speed: "1 Gb/s", RxBytes: 4096, TxBytes: 1024},
	{Name: "lo", Type: "device", Up: true, Addresses: []string{"127.0.0.1/8", "::1/128"}},
}

func TestRegister(t *testing.T) {
	bus := rpc.NewBus()
	require.NoError(t, Register(bus, Options{}))
	sigs := bus.List("luci.*")
	assert.Contains(t, sigs, "luci.network")
	assert.Contains(t, sigs, "luci.wireguard")
	assert.Contains(t, sigs, "luci.firewall")
	assert.Contains(t, sigs, "luci.diag")
	assert.Contains(t, sigs, "luci.log")
	assert.Equal(t, rpc.TypeString, sigs["luci.diag"]["ping"]["host"])

	require.Error(t, Register(bus, Options{}), "objects register once")
}

func TestNetwork_Interfaces(t *testing.T) {
	ctx := context.Background()
	n := &Network{List: func(context.Context) ([]Interface, error) { return testInterfaces, nil }}
	bus := newBus(t, "luci.network", n.Object())

	res, err := bus.Call(ctx, "luci.network", "interfaces", nil)
	require.NoError(t, err)
	assert.Len(t, res.(map[string]any)["interfaces"], 2)

	res, err = bus.Call(ctx, "luci.network", "interfaces", rpc.Args{"name": "lo"})
	require.NoError(t, err)
	assert.Equal(t, []Interface{testInterfaces[1]}, res.(map[string]any)["interfaces"])

	_, err = bus.Call(ctx, "luci.network", "interfaces", rpc.Args{"name": "wan9"})
	assert.ErrorIs(t, err, rpc.ErrNotFound)

	n.List = func(context.Context) ([]Interface, error) { return nil, errors.New("netlink down") }
	_, err = bus.Call(ctx, "luci.network", "interfaces", nil)
	assert.Equal(t, rpc.StatusUnknownError, rpc.StatusOf(err))
}

func TestNetwork_SampleViewTable(t *testing.T) {
	r, err := views.Samples()
	require.NoError(t, err)
	v, ok := r.Get("network-status")
	require.True(t, ok)

	n := &Network{List: func(context.Context) ([]Interface, error) { return testInterfaces, nil }}
	bus := newBus(t, "luci.network", n.Object())

	table, err := v.Status[0].Fetch(context.Background(), bus)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"eth0", "yes", "192.168.1.1/24", "igb", "1 Gb/s", "4.0 KiB", "1.0 KiB"}, table.Rows[0])
	assert.Equal(t, "-", table.Rows[1][3], "missing driver renders as a dash")
}

func testDevice(t *testing.T) *wgtypes.Device {
	t.Helper()
	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	peerKey, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	_, allowed, err := net.ParseCIDR("10.0.0.2/32")
	require.NoError(t, err)

	return &wgtypes.Device{
		Name:       "wg0",
		PrivateKey: priv,
		PublicKey:  priv.PublicKey(),
		ListenPort: 51820,
		Peers: []wgtypes.Peer{
			{
				PublicKey:         peerKey.PublicKey(),
				Endpoint:          &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 51820},
				AllowedIPs:        []net.IPNet{*allowed},
				LastHandshakeTime: time.Unix(1700000000, 0),
				ReceiveBytes:      2048,
				TransmitBytes:     512,
			},
			{PublicKey: priv.PublicKey()},
		},
	}
}

func TestWireGuard_Status(t *testing.T) {
	ctx := context.Background()
	dev := testDevice(t)
	other := &wgtypes.Device{Name: "wg1"}
	w := &WireGuard{Devices: func() ([]*wgtypes.Device, error) { return []*wgtypes.Device{other, dev}, nil }}
	bus := newBus(t, "luci.wireguard", w.Object())

	res, err := bus.Call(ctx, "luci.wireguard", "status", nil)
	require.NoError(t, err)
	reply := res.(map[string]any)
	ifaces := reply["interfaces"].([]WGInterface)
	require.Len(t, ifaces, 2)
	assert.Equal(t, "wg0", ifaces[0].Name)
	assert.Equal(t, 2, ifaces[0].Peers)

	peers := reply["peers"].([]WGPeer)
	require.Len(t, peers, 2)
	assert.Equal(t, "203.0.113.5:51820", peers[0].Endpoint)
	assert.Equal(t, []string{"10.0.0.2/32"}, peers[0].AllowedIPs)
	assert.Equal(t, int64(1700000000), peers[0].LatestHandshake)
	assert.Empty(t, peers[1].Endpoint)
	assert.Zero(t, peers[1].LatestHandshake, "no handshake yet")

	res, err = bus.Call(ctx, "luci.wireguard", "status", rpc.Args{"device": "wg1"})
	require.NoError(t, err)
	assert.Len(t, res.(map[string]any)["interfaces"], 1)
	assert.Empty(t, res.(map[string]any)["peers"])
}

func TestFirewall_Family(t *testing.T) {
	rs := Ruleset{
		Tables: []NftTable{{Family: "inet", Name: "fw4", Chains: 2}, {Family: "ip", Name: "nat", Chains: 1}},
		Chains: []NftChain{{Family: "inet", Table: "fw4", Name: "input"}, {Family: "inet", Table: "fw4", Name: "forward"}, {Family: "ip", Table: "nat", Name: "postrouting"}},
	}
	f := &Firewall{List: func(context.Context) (Ruleset, error) { return rs, nil }}
	bus := newBus(t, "luci.firewall", f.Object())

	res, err := bus.Call(context.Background(), "luci.firewall", "tables", rpc.Args{"family": "ip"})
	require.NoError(t, err)
	got := res.(Ruleset)
	assert.Equal(t, []NftTable{{Family: "ip", Name: "nat", Chains: 1}}, got.Tables)
	assert.Len(t, got.Chains, 1)

	res, err = bus.Call(context.Background(), "luci.firewall", "tables", rpc.Args{"family": "bridge"})
	require.NoError(t, err)
	assert.NotNil(t, res.(Ruleset).Tables)
	assert.Empty(t, res.(Ruleset).Tables)
}

func TestDiag_Ping(t *testing.T) {
	ctx := context.Background()
	var gotCount int
	d := &Diag{Ping: func(_ context.Context, host string, count int) (PingResult, error) {
		gotCount = count
		return PingResult{Host: host, Sent: count, Received: count}, nil
	}}
	bus := newBus(t, "luci.diag", d.Object())

	res, err := bus.Call(ctx, "luci.diag", "ping", rpc.Args{"host": "192.168.1.1", "count": 50})
	require.NoError(t, err)
	assert.Equal(t, maxPingCount, gotCount)
	assert.Equal(t, "192.168.1.1", res.(PingResult).Host)

	_, err = bus.Call(ctx, "luci.diag", "ping", rpc.Args{"host": "a b;reboot"})
	assert.ErrorIs(t, err, rpc.ErrInvalidArgument)

	_, err = bus.Call(ctx, "luci.diag", "ping", rpc.Args{"host": "router", "count": "3"})
	assert.ErrorIs(t, err, rpc.ErrInvalidArgument, "count must be a number")
}

func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("router.lan.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR("router.lan. 60 IN A 192.168.1.1")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDiag_Nslookup(t *testing.T) {
	ctx := context.Background()
	addr := startDNS(t)
	bus := newBus(t, "luci.diag", (&Diag{Resolver: addr}).Object())

	res, err := bus.Call(ctx, "luci.diag", "nslookup", rpc.Args{"name": "router.lan"})
	require.NoError(t, err)
	l := res.(Lookup)
	assert.Equal(t, "NOERROR", l.Rcode)
	assert.Equal(t, addr, l.Server)
	require.Len(t, l.Answers, 1)
	assert.Equal(t, Answer{Name: "router.lan.", Type: "A", TTL: 60, Data: "192.168.1.1"}, l.Answers[0])

	res, err = bus.Call(ctx, "luci.diag", "nslookup", rpc.Args{"name": "router.lan", "type": "aaaa"})
	require.NoError(t, err)
	assert.Empty(t, res.(Lookup).Answers)

	_, err = bus.Call(ctx, "luci.diag", "nslookup", rpc.Args{"name": "router.lan", "type": "BOGUS"})
	assert.ErrorIs(t, err, rpc.ErrInvalidArgument)
}

func TestLog_Tail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "messages")
	require.NoError(t, os.WriteFile(path, []byte(
		"Dec  5 12:00:01 router dnsmasq[100]: started\n"+
			"Dec  5 12:00:02 router dropbear[200]: error: bad password\n"+
			"Dec  5 12:00:03 router dnsmasq[100]: query A router.lan\n"), 0o644))

	l := &Log{
		Dirs: []string{dir},
		Views: func(name string) (logging.Source, logging.TailOptions, bool) {
			if name != "dnsmasq" {
				return logging.Source{}, logging.TailOptions{}, false
			}
			return logging.Source{Kind: logging.SourceFile, Path: path}, logging.TailOptions{Pattern: "dnsmasq"}, true
		},
	}
	bus := newBus(t, "luci.log", l.Object())

	res, err := bus.Call(ctx, "luci.log", "tail", rpc.Args{"view": "dnsmasq"})
	require.NoError(t, err)
	entries := res.(map[string]any)["entries"].([]logging.Entry)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1].Message, "router.lan")

	// Declared stubs see the typed entries as generic JSON rows.
	stub := rpc.Declare(bus, rpc.Declaration{
		Object: "luci.log", Method: "tail", Params: []string{"view"},
		Expect: &rpc.Expect{Key: "entries", Default: []any{}},
	})
	shaped, err := stub.Call(ctx, "dnsmasq")
	require.NoError(t, err)
	require.Len(t, shaped, 2)
	var tail []logging.Entry
	require.NoError(t, stub.CallInto(ctx, &tail, "dnsmasq"))
	require.Len(t, tail, 2)
	assert.Equal(t, entries[1].Message, tail[1].Message)

	res, err = bus.Call(ctx, "luci.log", "tail", rpc.Args{"view": "dnsmasq", "lines": 1})
	require.NoError(t, err)
	assert.Len(t, res.(map[string]any)["entries"], 1)

	res, err = bus.Call(ctx, "luci.log", "tail", rpc.Args{"path": path, "filter": "dropbear"})
	require.NoError(t, err)
	assert.Len(t, res.(map[string]any)["entries"], 1)

	_, err = bus.Call(ctx, "luci.log", "tail", rpc.Args{"path": "/etc/shadow"})
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)

	_, err = bus.Call(ctx, "luci.log", "tail", rpc.Args{"view": "kernel"})
	assert.ErrorIs(t, err, rpc.ErrNotFound)

	res, err = bus.Call(ctx, "luci.log", "tail", nil)
	require.NoError(t, err)
	assert.NotNil(t, res.(map[string]any)["entries"])
}

func TestOSRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(path, []byte("NAME=\"OpenWrt\"\nVERSION_ID=\"24.10.0\"\nPRETTY_NAME=\"OpenWrt 24.10.0\"\nBROKEN\n"), 0o644))
	assert.Equal(t, Release{Distribution: "OpenWrt", Version: "24.10.0", Description: "OpenWrt 24.10.0"}, osRelease(path))

	rel := osRelease(filepath.Join(t.TempDir(), "missing"))
	assert.NotEmpty(t, rel.Distribution)
}

func TestSystem_Board(t *testing.T) {
	bus := newBus(t, "system", SystemObject())
	res, err := bus.Call(context.Background(), "system", "board", nil)
	require.NoError(t, err)
	b := res.(Board)
	assert.NotEmpty(t, b.Kernel)
	assert.NotEmpty(t, b.System)
}
