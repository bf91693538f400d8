package uci

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	b := NewMemoryBackend(map[string]string{"network": networkText})
	return NewStore(b), b
}

func TestStore_SetCommit(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t)

	var hooked []string
	s.OnCommit(func(pkg string, changes []Change) {
		hooked = append(hooked, pkg)
		assert.Len(t, changes, 1)
	})

	require.NoError(t, s.Set(ctx, "network", "lan", "proto", Single("dhcp")))

	v, err := s.Get(ctx, "network", "lan", "proto")
	require.NoError(t, err)
	assert.Equal(t, "dhcp", v.String())

	committed, err := s.Committed(ctx, "network")
	require.NoError(t, err)
	cv, _ := committed.Section("lan").Get("proto")
	assert.Equal(t, "static", cv.String(), "staged value leaked into committed state")

	changes := s.Changes("network")
	require.Len(t, changes, 1)
	assert.Equal(t, "network.lan.proto='dhcp'", changes[0].String())

	require.NoError(t, s.Commit(ctx, "network"))
	assert.Empty(t, s.Changes(""))
	assert.Equal(t, []string{"network"}, hooked)
	assert.Contains(t, b.Text("network"), "option proto 'dhcp'")

	// Nothing staged, nothing saved.
	saves := b.Saves()
	require.NoError(t, s.Commit(ctx, "network"))
	assert.Equal(t, saves, b.Saves())
}

func TestStore_Revert(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t)

	require.NoError(t, s.Delete(ctx, "network", "lan", ""))
	_, err := s.Section(ctx, "network", "lan")
	assert.ErrorIs(t, err, ErrNotFound)

	s.Revert("network")
	_, err = s.Section(ctx, "network", "lan")
	assert.NoError(t, err)
	assert.Empty(t, s.Changes("network"))
	assert.Equal(t, 0, b.Saves())
}

func TestStore_AddAnonymous(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t)

	sid, err := s.Add(ctx, "network", "rule")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "network", "@rule[-1]", "name", Single("Allow-DNS")))

	sec, err := s.Section(ctx, "network", sid)
	require.NoError(t, err)
	assert.True(t, sec.Anonymous)
	v, _ := sec.Get("name")
	assert.Equal(t, "Allow-DNS", v.String())

	changes := s.Changes("network")
	require.Len(t, changes, 2)
	assert.Equal(t, "+network."+sid+"=rule", changes[0].String())
	assert.Equal(t, sid, changes[1].Section, "references are resolved when staged")

	require.NoError(t, s.Commit(ctx, "network"))
	assert.Contains(t, b.Text("network"), "\nconfig rule\n\toption name 'Allow-DNS'\n")

	// The committed section keeps its name within the process.
	_, err = s.Section(ctx, "network", sid)
	assert.NoError(t, err)
}

func TestStore_StageAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Stage(ctx, "network",
		Change{Op: OpSet, Section: "lan", Option: "proto", Value: Single("dhcp")},
		Change{Op: OpSet, Section: "missing", Option: "proto", Value: Single("dhcp")},
	)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.Changes("network"))

	v, err := s.Get(ctx, "network", "lan", "proto")
	require.NoError(t, err)
	assert.Equal(t, "static", v.String())
}

func TestStore_StageAllAcrossPackages(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(map[string]string{
		"network": networkText,
		"dhcp":    "config dnsmasq\n\toption domain 'lan'\n",
	})
	s := NewStore(b)

	_, err := s.StageAll(ctx, map[string][]Change{
		"network": {{Op: OpSet, Section: "lan", Option: "proto", Value: Single("dhcp")}},
		"dhcp":    {{Op: OpSet, Section: "missing", Option: "x", Value: Single("1")}},
	})
	require.Error(t, err)
	assert.Empty(t, s.Changes(""))

	res, err := s.StageAll(ctx, map[string][]Change{
		"network": {{Op: OpSet, Section: "lan", Option: "proto", Value: Single("dhcp")}},
		"dhcp": {
			{Op: OpAdd, Type: "host"},
			{Op: OpSet, Section: "@host[-1]", Option: "name", Value: Single("nas")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res["dhcp"], 2)
	assert.Equal(t, res["dhcp"][0].Section, res["dhcp"][1].Section)
	assert.Len(t, s.Changes(""), 3)
}

func TestStore_Operations(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetSection(ctx, "network", "wan", "interface"))
	require.NoError(t, s.Set(ctx, "network", "wan", "proto", Single("dhcp")))
	require.NoError(t, s.Reorder(ctx, "network", "wan", 0))
	require.NoError(t, s.Rename(ctx, "network", "wan", "", "wan6"))
	require.NoError(t, s.Rename(ctx, "network", "wan6", "proto", "kind"))
	require.NoError(t, s.AddList(ctx, "network", "lan", "dns", "8.8.8.8"))
	require.NoError(t, s.DelList(ctx, "network", "lan", "dns", "1.1.1.1"))

	p, err := s.Package(ctx, "network")
	require.NoError(t, err)
	assert.Equal(t, "wan6", p.Sections[0].Name)
	kind, ok := p.Sections[0].Get("kind")
	require.True(t, ok)
	assert.Equal(t, "dhcp", kind.String())

	dns, _ := p.Section("lan").Get("dns")
	assert.Equal(t, []string{"9.9.9.9", "8.8.8.8"}, dns.Values)

	assert.ErrorIs(t, s.DelList(ctx, "network", "lan", "proto", "x"), ErrNotList)
	assert.ErrorIs(t, s.Set(ctx, "network", "lan", "bad-name", Single("x")), ErrInvalidName)
	assert.NoError(t, s.SetSection(ctx, "network", "lan", "interface"))
	assert.ErrorIs(t, s.Rename(ctx, "network", "lan", "", "loopback"), ErrExists)
	assert.ErrorIs(t, s.Delete(ctx, "network", "lan", "nope"), ErrNotFound)

	_, err = s.Package(ctx, "wireless")
	assert.ErrorIs(t, err, ErrNotFound)

	lines := make([]string, 0)
	for _, c := range s.Changes("network") {
		lines = append(lines, c.String())
	}
	assert.Equal(t, []string{
		"network.wan=interface",
		"network.wan.proto='dhcp'",
		"^network.wan=0",
		"@network.wan=wan6",
		"@network.wan6.proto=kind",
		"|network.lan.dns='8.8.8.8'",
		"~network.lan.dns='1.1.1.1'",
		"network.lan=interface",
	}, lines)
}

func TestStore_CreateAndConfigs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Create(ctx, "luci"))
	assert.ErrorIs(t, s.Create(ctx, "luci"), ErrExists)
	assert.ErrorIs(t, s.Create(ctx, "bad.name"), ErrInvalidName)

	names, err := s.Configs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"luci", "network"}, names)
}

func TestStore_Diff(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	d, err := s.Diff(ctx, "network")
	require.NoError(t, err)
	assert.Empty(t, d)

	require.NoError(t, s.Set(ctx, "network", "lan", "proto", Single("dhcp")))
	d, err = s.Diff(ctx, "network")
	require.NoError(t, err)
	assert.Contains(t, d, "--- a/network")
	assert.Contains(t, d, "-\toption proto 'static'")
	assert.Contains(t, d, "+\toption proto 'dhcp'")
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "network"), []byte(networkText), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	s := NewStore(NewFileBackend(dir))

	names, err := s.Configs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"network"}, names)

	require.NoError(t, s.Set(ctx, "network", "loopback", "ipaddr", Single("127.0.0.2")))
	require.NoError(t, s.Commit(ctx, "network"))

	data, err := os.ReadFile(filepath.Join(dir, "network"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "option ipaddr '127.0.0.2'")

	info, err := os.Stat(filepath.Join(dir, "network"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}

	_, err = NewFileBackend(dir).Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := NewFileBackend(filepath.Join(dir, "nope")).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_ApplyFailureLeavesNothingStaged(t *testing.T) {
	ctx := context.Background()
	s, b := newTestStore(t)
	before := b.Text("network")

	b.FailSaves("network", errors.New("disk full"))
	_, err := s.Apply(ctx, map[string][]Change{
		"network": {
			{Op: OpAdd, Type: "route"},
			{Op: OpSet, Section: "lan", Option: "proto", Value: Single("dhcp")},
		},
	})
	require.Error(t, err)
	assert.Empty(t, s.Changes(""))
	assert.Equal(t, before, b.Text("network"))
	v, err := s.Get(ctx, "network", "lan", "proto")
	require.NoError(t, err)
	assert.Equal(t, "static", v.String())

	b.FailSaves("network", nil)
	res, err := s.Apply(ctx, map[string][]Change{
		"network": {{Op: OpAdd, Type: "route"}},
	})
	require.NoError(t, err)
	require.Len(t, res["network"], 1)
	assert.Empty(t, s.Changes(""))
	routes, err := s.Sections(ctx, "network", "route")
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}

func TestStore_CommitAllRestoresEarlierPackages(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(map[string]string{
		"network": networkText,
		"dhcp":    "config dnsmasq\n\toption domain 'lan'\n",
	})
	s := NewStore(b)
	var hooked []string
	s.OnCommit(func(pkg string, _ []Change) { hooked = append(hooked, pkg) })

	require.NoError(t, s.Set(ctx, "network", "lan", "proto", Single("dhcp")))
	require.NoError(t, s.Set(ctx, "dhcp", "@dnsmasq[0]", "domain", Single("home")))

	b.FailSaves("dhcp", errors.New("read-only file system"))
	err := s.CommitAll(ctx, "network", "dhcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit dhcp")
	assert.NotContains(t, b.Text("network"), "dhcp", "network must be restored")
	assert.Len(t, s.Changes(""), 2, "changes stay staged")
	assert.Empty(t, hooked)

	b.FailSaves("dhcp", nil)
	require.NoError(t, s.CommitAll(ctx, "network", "dhcp"))
	assert.Empty(t, s.Changes(""))
	assert.Contains(t, b.Text("network"), "dhcp")
	assert.Equal(t, []string{"network", "dhcp"}, hooked)
}
