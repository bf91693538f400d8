package status

import (
	"context"
	"fmt"
	"sort"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"grimm.is/luci/internal/rpc"
)

// WGInterface is one row of the "interfaces" list of luci.wireguard status.
type WGInterface struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	ListenPort int    `json:"listen_port"`
	FwMark     int    `json:"fwmark,omitempty"`
	Peers      int    `json:"peers"`
}

// WGPeer is one row of the "peers" list.
type WGPeer struct {
	Interface       string   `json:"interface"`
	PublicKey       string   `json:"public_key"`
	Endpoint        string   `json:"endpoint,omitempty"`
	AllowedIPs      []string `json:"allowed_ips"`
	LatestHandshake int64    `json:"latest_handshake"`
	RxBytes         int64    `json:"rx_bytes"`
	TxBytes         int64    `json:"tx_bytes"`
	Keepalive       int      `json:"persistent_keepalive"`
}

// WireGuard serves luci.wireguard.
type WireGuard struct {
	// Devices reads the WireGuard devices; nil asks wgctrl.
	Devices func() ([]*wgtypes.Device, error)
}

// Object returns the "luci.wireguard" RPC object.
func (w *WireGuard) Object() rpc.Object {
	return rpc.Object{
		"status": {
			ReadOnly: true,
			Params:   map[string]string{"device": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				devices := w.Devices
				if devices == nil {
					devices = wgDevices
				}
				devs, err := devices()
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				ifaces, peers := wgStatus(devs, args.String("device"))
				return map[string]any{"interfaces": ifaces, "peers": peers}, nil
			},
		},
	}
}

func wgDevices() ([]*wgtypes.Device, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open wgctrl: %w", err)
	}
	defer c.Close()
	return c.Devices()
}

// wgStatus flattens devices into rows, keeping only device when set.
func wgStatus(devs []*wgtypes.Device, device string) ([]WGInterface, []WGPeer) {
	ifaces := []WGInterface{}
	peers := []WGPeer{}
	for _, d := range devs {
		if device != "" && d.Name != device {
			continue
		}
		ifaces = append(ifaces, WGInterface{
			Name:       d.Name,
			PublicKey:  d.PublicKey.String(),
			ListenPort: d.ListenPort,
			FwMark:     d.FirewallMark,
			Peers:      len(d.Peers),
		})
		for _, p := range d.Peers {
			peer := WGPeer{
				Interface:  d.Name,
				PublicKey:  p.PublicKey.String(),
				AllowedIPs: make([]string, len(p.AllowedIPs)),
				RxBytes:    p.ReceiveBytes,
				TxBytes:    p.TransmitBytes,
				Keepalive:  int(p.PersistentKeepaliveInterval.Seconds()),
			}
			if p.Endpoint != nil {
				peer.Endpoint = p.Endpoint.String()
			}
			if !p.LastHandshakeTime.IsZero() {
				peer.LatestHandshake = p.LastHandshakeTime.Unix()
			}
			for i, ip := range p.AllowedIPs {
				peer.AllowedIPs[i] = ip.String()
			}
			peers = append(peers, peer)
		}
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
	sort.SliceStable(peers, func(i, j int) bool { return peers[i].Interface < peers[j].Interface })
	return ifaces, peers
}
