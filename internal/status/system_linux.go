//go:build linux
// +build linux

package status

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/luci/internal/brand"
)

// loadScale converts sysinfo load averages to floats.
const loadScale = 1 << 16

// ReadInfo reads uptime, load and memory from sysinfo(2).
func ReadInfo(now time.Time) (Info, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return Info{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	info := Info{
		Localtime: now.Unix(),
		Uptime:    int64(si.Uptime),
		Memory: Memory{
			Total:    uint64(si.Totalram) * unit,
			Free:     uint64(si.Freeram) * unit,
			Shared:   uint64(si.Sharedram) * unit,
			Buffered: uint64(si.Bufferram) * unit,
		},
		Swap: Swap{
			Total: uint64(si.Totalswap) * unit,
			Free:  uint64(si.Freeswap) * unit,
		},
	}
	for i := range info.Load {
		info.Load[i] = float64(si.Loads[i]) / loadScale
	}
	return info, nil
}

// ReadBoard reads kernel and host identity from uname(2).
func ReadBoard() (Board, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return Board{}, fmt.Errorf("uname: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = unix.ByteSliceToString(u.Nodename[:])
	}
	return Board{
		Kernel:   unix.ByteSliceToString(u.Release[:]),
		Hostname: host,
		System:   unix.ByteSliceToString(u.Machine[:]),
		Release:  osRelease("/etc/os-release"),
		Daemon:   brand.LowerName + " " + brand.Version,
	}, nil
}
