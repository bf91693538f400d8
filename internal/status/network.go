package status

import (
	"context"

	"grimm.is/luci/internal/rpc"
)

// Interface is one row of luci.network interfaces.
type Interface struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Up        bool     `json:"up"`
	Carrier   bool     `json:"carrier"`
	MTU       int      `json:"mtu"`
	MAC       string   `json:"macaddr,omitempty"`
	Addresses []string `json:"addresses"`
	Driver    string   `json:"driver,omitempty"`
	Speed     string   `json:"speed,omitempty"`
	RxBytes   uint64   `json:"rx_bytes"`
	TxBytes   uint64   `json:"tx_bytes"`
	RxPackets uint64   `json:"rx_packets"`
	TxPackets uint64   `json:"tx_packets"`
}

// Network serves luci.network.
type Network struct {
	// List reads the interfaces; nil asks the kernel.
	List func(ctx context.Context) ([]Interface, error)
}

// Object returns the "luci.network" RPC object.
func (n *Network) Object() rpc.Object {
	return rpc.Object{
		"interfaces": {
			ReadOnly: true,
			Params:   map[string]string{"name": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				list := n.List
				if list == nil {
					list = listInterfaces
				}
				ifaces, err := list(ctx)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				if name := args.String("name"); name != "" {
					for _, i := range ifaces {
						if i.Name == name {
							return map[string]any{"interfaces": []Interface{i}}, nil
						}
					}
					return nil, rpc.Errorf(rpc.StatusNotFound, "interface %q not found", name)
				}
				return map[string]any{"interfaces": ifaces}, nil
			},
		},
	}
}
