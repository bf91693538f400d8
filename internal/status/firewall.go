package status

import (
	"context"

	"grimm.is/luci/internal/rpc"
)

// NftTable is one row of the "tables" list of luci.firewall tables.
type NftTable struct {
	Family string `json:"family"`
	Name   string `json:"name"`
	Chains int    `json:"chains"`
}

// NftChain is one row of the "chains" list.
type NftChain struct {
	Family   string `json:"family"`
	Table    string `json:"table"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Hook     string `json:"hook,omitempty"`
	Priority *int32 `json:"priority,omitempty"`
	Policy   string `json:"policy,omitempty"`
	Rules    int    `json:"rules"`
}

// Ruleset is the reply of luci.firewall tables.
type Ruleset struct {
	Tables []NftTable `json:"tables"`
	Chains []NftChain `json:"chains"`
}

// Firewall serves luci.firewall.
type Firewall struct {
	// List reads the ruleset; nil asks nftables.
	List func(ctx context.Context) (Ruleset, error)
}

// Object returns the "luci.firewall" RPC object.
func (f *Firewall) Object() rpc.Object {
	return rpc.Object{
		"tables": {
			ReadOnly: true,
			Params:   map[string]string{"family": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				list := f.List
				if list == nil {
					list = listRuleset
				}
				rs, err := list(ctx)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				if fam := args.String("family"); fam != "" {
					rs = rs.family(fam)
				}
				return rs, nil
			},
		},
	}
}

func (rs Ruleset) family(fam string) Ruleset {
	out := Ruleset{Tables: []NftTable{}, Chains: []NftChain{}}
	for _, t := range rs.Tables {
		if t.Family == fam {
			out.Tables = append(out.Tables, t)
		}
	}
	for _, c := range rs.Chains {
		if c.Family == fam {
			out.Chains = append(out.Chains, c)
		}
	}
	return out
}
