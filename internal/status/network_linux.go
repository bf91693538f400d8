//go:build linux
// +build linux

package status

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"

	"grimm.is/luci/internal/logging"
)

// listInterfaces reads links and addresses over netlink and adds driver
// and speed from ethtool where the device supports it.
func listInterfaces(ctx context.Context) ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	et, err := ethtool.NewEthtool()
	if err != nil {
		logging.Debug("ethtool unavailable", "error", err)
		et = nil
	} else {
		defer et.Close()
	}

	out := make([]Interface, 0, len(links))
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attrs := l.Attrs()
		i := Interface{
			Name:      attrs.Name,
			Type:      l.Type(),
			Up:        attrs.Flags&net.FlagUp != 0,
			Carrier:   attrs.OperState == netlink.OperUp,
			MTU:       attrs.MTU,
			Addresses: []string{},
		}
		if len(attrs.HardwareAddr) > 0 {
			i.MAC = attrs.HardwareAddr.String()
		}
		if s := attrs.Statistics; s != nil {
			i.RxBytes, i.TxBytes = s.RxBytes, s.TxBytes
			i.RxPackets, i.TxPackets = s.RxPackets, s.TxPackets
		}
		if addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL); err == nil {
			for _, a := range addrs {
				i.Addresses = append(i.Addresses, a.IPNet.String())
			}
		}
		if et != nil && l.Type() == "device" {
			if drv, err := et.DriverName(attrs.Name); err == nil {
				i.Driver = drv
			}
			if ls, err := et.GetLinkSettings(attrs.Name); err == nil {
				i.Speed = formatSpeed(ls.Speed)
			}
		}
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func formatSpeed(mbps uint32) string {
	if mbps == 0 || mbps == math.MaxUint32 {
		return ""
	}
	if mbps >= 1000 && mbps%1000 == 0 {
		return fmt.Sprintf("%d Gb/s", mbps/1000)
	}
	return fmt.Sprintf("%d Mb/s", mbps)
}
