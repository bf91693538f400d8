package health

import (
	"context"
	"fmt"

	"grimm.is/luci/internal/fs"
	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
)

// StoreCheck lists the UCI packages. A store that cannot list is unhealthy.
func StoreCheck(store *uci.Store) CheckFunc {
	return func(ctx context.Context) Check {
		names, err := store.Configs(ctx)
		return Result(err, StatusUnhealthy, "%d packages", len(names))
	}
}

// BackendCheck lists the packages of a secondary backend such as the
// revision database. Failure degrades the daemon without stopping it.
func BackendCheck(b uci.Backend) CheckFunc {
	return func(ctx context.Context) Check {
		names, err := b.List(ctx)
		return Result(err, StatusDegraded, "%d packages", len(names))
	}
}

// BusCheck verifies that the named objects are registered.
func BusCheck(bus *rpc.Bus, required ...string) CheckFunc {
	return func(ctx context.Context) Check {
		have := make(map[string]bool)
		for _, name := range bus.Objects() {
			have[name] = true
		}
		for _, name := range required {
			if !have[name] {
				return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("object %s not registered", name)}
			}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d objects", len(have))}
	}
}

// DiskCheck degrades when the filesystem holding path has less than
// minPercent available.
func DiskCheck(h *fs.Helper, path string, minPercent float64) CheckFunc {
	return func(ctx context.Context) Check {
		u, err := h.Statfs(ctx, path)
		if err != nil {
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		if u.Total == 0 {
			return Check{Status: StatusHealthy, Message: "size unknown"}
		}
		pct := float64(u.Avail) * 100 / float64(u.Total)
		if pct < minPercent {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("%.1f%% available on %s", pct, path)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%.1f%% available", pct)}
	}
}
