//go:build !linux
// +build !linux

package status

import (
	"os"
	"runtime"
	"time"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/rpc"
)

// ReadInfo is not supported off Linux.
func ReadInfo(now time.Time) (Info, error) {
	return Info{}, rpc.ErrNotSupported
}

// ReadBoard reports what the Go runtime knows.
func ReadBoard() (Board, error) {
	host, _ := os.Hostname()
	return Board{
		Kernel:   runtime.GOOS,
		Hostname: host,
		System:   runtime.GOARCH,
		Release:  osRelease("/etc/os-release"),
		Daemon:   brand.LowerName + " " + brand.Version,
	}, nil
}
