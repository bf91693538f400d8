package status

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/metrics"
	"grimm.is/luci/internal/rpc"
)

// Memory sizes are in bytes.
type Memory struct {
	Total    uint64 `json:"total"`
	Free     uint64 `json:"free"`
	Shared   uint64 `json:"shared"`
	Buffered uint64 `json:"buffered"`
}

// Swap sizes are in bytes.
type Swap struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// Info is the reply of system.info.
type Info struct {
	Localtime int64      `json:"localtime"`
	Uptime    int64      `json:"uptime"`
	Load      [3]float64 `json:"load"`
	Memory    Memory     `json:"memory"`
	Swap      Swap       `json:"swap"`
}

// Release describes the installed distribution.
type Release struct {
	Distribution string `json:"distribution"`
	Version      string `json:"version"`
	Description  string `json:"description"`
}

// Board is the reply of system.board.
type Board struct {
	Kernel   string  `json:"kernel"`
	Hostname string  `json:"hostname"`
	System   string  `json:"system"`
	Release  Release `json:"release"`
	Daemon   string  `json:"daemon"`
}

// SystemObject returns the "system" RPC object.
func SystemObject() rpc.Object {
	return rpc.Object{
		"info": {
			ReadOnly: true,
			Handler: func(ctx context.Context, _ rpc.Args) (any, error) {
				info, err := ReadInfo(clock.Now())
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				return info, nil
			},
		},
		"board": {
			ReadOnly: true,
			Handler: func(ctx context.Context, _ rpc.Args) (any, error) {
				b, err := ReadBoard()
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				return b, nil
			},
		},
	}
}

// Sample reads the counters exported as system gauges.
func Sample(ctx context.Context) (metrics.SystemSample, error) {
	info, err := ReadInfo(clock.Now())
	if err != nil {
		return metrics.SystemSample{}, err
	}
	return metrics.SystemSample{
		Uptime:      time.Duration(info.Uptime) * time.Second,
		Load:        info.Load,
		MemTotal:    info.Memory.Total,
		MemFree:     info.Memory.Free,
		MemShared:   info.Memory.Shared,
		MemBuffered: info.Memory.Buffered,
	}, nil
}

// osRelease reads distribution fields from an os-release file. Missing
// files fall back to the daemon's own name.
func osRelease(path string) Release {
	rel := Release{Distribution: brand.Name, Version: brand.Version}
	f, err := os.Open(path)
	if err != nil {
		return rel
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, `"'`)
		switch key {
		case "NAME":
			rel.Distribution = val
		case "VERSION_ID":
			rel.Version = val
		case "PRETTY_NAME":
			rel.Description = val
		}
	}
	return rel
}
