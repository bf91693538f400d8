//go:build linux
// +build linux

package status

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/nftables"
)

var familyNames = map[nftables.TableFamily]string{
	nftables.TableFamilyINet:   "inet",
	nftables.TableFamilyIPv4:   "ip",
	nftables.TableFamilyIPv6:   "ip6",
	nftables.TableFamilyARP:    "arp",
	nftables.TableFamilyNetdev: "netdev",
	nftables.TableFamilyBridge: "bridge",
}

func familyName(f nftables.TableFamily) string {
	if n, ok := familyNames[f]; ok {
		return n
	}
	return fmt.Sprintf("family%d", f)
}

func hookName(f nftables.TableFamily, h nftables.ChainHook) string {
	if f == nftables.TableFamilyNetdev {
		switch h {
		case 0:
			return "ingress"
		case 1:
			return "egress"
		}
	}
	switch h {
	case 0:
		return "prerouting"
	case 1:
		return "input"
	case 2:
		return "forward"
	case 3:
		return "output"
	case 4:
		return "postrouting"
	}
	return fmt.Sprintf("hook%d", h)
}

func listRuleset(ctx context.Context) (Ruleset, error) {
	conn, err := nftables.New()
	if err != nil {
		return Ruleset{}, fmt.Errorf("failed to open nftables connection: %w", err)
	}
	tables, err := conn.ListTables()
	if err != nil {
		return Ruleset{}, fmt.Errorf("failed to list tables: %w", err)
	}
	chains, err := conn.ListChains()
	if err != nil {
		return Ruleset{}, fmt.Errorf("failed to list chains: %w", err)
	}
	rules := func(c *nftables.Chain) int {
		if ctx.Err() != nil {
			return 0
		}
		rs, err := conn.GetRules(c.Table, c)
		if err != nil {
			return 0
		}
		return len(rs)
	}
	return ruleset(tables, chains, rules), ctx.Err()
}

// ruleset converts nftables objects into rows sorted by family, table and
// chain name. rules counts the rules of a chain and may be nil.
func ruleset(tables []*nftables.Table, chains []*nftables.Chain, rules func(*nftables.Chain) int) Ruleset {
	rs := Ruleset{Tables: []NftTable{}, Chains: []NftChain{}}
	count := make(map[string]int)
	for _, c := range chains {
		if c.Table == nil {
			continue
		}
		fam := familyName(c.Table.Family)
		count[fam+" "+c.Table.Name]++
		row := NftChain{
			Family: fam,
			Table:  c.Table.Name,
			Name:   c.Name,
			Type:   string(c.Type),
		}
		if c.Hooknum != nil {
			row.Hook = hookName(c.Table.Family, *c.Hooknum)
		}
		if c.Priority != nil {
			p := int32(*c.Priority)
			row.Priority = &p
		}
		if c.Policy != nil {
			row.Policy = "drop"
			if *c.Policy == nftables.ChainPolicyAccept {
				row.Policy = "accept"
			}
		}
		if rules != nil {
			row.Rules = rules(c)
		}
		rs.Chains = append(rs.Chains, row)
	}
	for _, t := range tables {
		fam := familyName(t.Family)
		rs.Tables = append(rs.Tables, NftTable{Family: fam, Name: t.Name, Chains: count[fam+" "+t.Name]})
	}
	sort.Slice(rs.Tables, func(i, j int) bool {
		a, b := rs.Tables[i], rs.Tables[j]
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		return a.Name < b.Name
	})
	sort.Slice(rs.Chains, func(i, j int) bool {
		a, b := rs.Chains[i], rs.Chains[j]
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Name < b.Name
	})
	return rs
}
