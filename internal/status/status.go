// Package status implements the read-only RPC objects polled by status and
// log views: system, luci.network, luci.wireguard, luci.firewall, luci.diag
// and luci.log.
//
// Every object reads kernel state on demand; nothing is cached between
// calls. Data sources are swappable fields so tests can run unprivileged.
package status

import (
	"maps"
	"slices"

	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/rpc"
)

// Options configures the objects registered by Register.
type Options struct {
	// LogViews resolves a log view name to its source and defaults.
	LogViews func(name string) (logging.Source, logging.TailOptions, bool)
	// LogDirs lists the directories luci.log may read by path.
	LogDirs []string
	// Resolver is the nameserver used by nslookup (host:port). Empty
	// means the first nameserver of /etc/resolv.conf.
	Resolver string
}

// Objects returns every status object by name.
func Objects(opts Options) map[string]rpc.Object {
	return map[string]rpc.Object{
		"system":         SystemObject(),
		"luci.network":   (&Network{}).Object(),
		"luci.wireguard": (&WireGuard{}).Object(),
		"luci.firewall":  (&Firewall{}).Object(),
		"luci.diag":      (&Diag{Resolver: opts.Resolver}).Object(),
		"luci.log":       (&Log{Views: opts.LogViews, Dirs: opts.LogDirs}).Object(),
	}
}

// Register adds every status object to bus.
func Register(bus *rpc.Bus, opts Options) error {
	objs := Objects(opts)
	for _, name := range slices.Sorted(maps.Keys(objs)) {
		if err := bus.Register(name, objs[name]); err != nil {
			return err
		}
	}
	return nil
}
