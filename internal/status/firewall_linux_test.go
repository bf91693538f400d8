//go:build linux
// +build linux

package status

import (
	"testing"

	"github.com/google/nftables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleset(t *testing.T) {
	fw4 := &nftables.Table{Name: "fw4", Family: nftables.TableFamilyINet}
	nat := &nftables.Table{Name: "nat", Family: nftables.TableFamilyIPv4}
	dev := &nftables.Table{Name: "flow", Family: nftables.TableFamilyNetdev}

	accept := nftables.ChainPolicyAccept
	drop := nftables.ChainPolicyDrop
	chains := []*nftables.Chain{
		{Name: "input", Table: fw4, Type: nftables.ChainTypeFilter, Hooknum: nftables.ChainHookInput, Priority: nftables.ChainPriorityFilter, Policy: &drop},
		{Name: "srcnat", Table: nat, Type: nftables.ChainTypeNAT, Hooknum: nftables.ChainHookPostrouting, Priority: nftables.ChainPriorityNATSource, Policy: &accept},
		{Name: "forward_lan", Table: fw4},
		{Name: "ingress", Table: dev, Type: nftables.ChainTypeFilter, Hooknum: nftables.ChainHookIngress},
		{Name: "orphan"},
	}
	rs := ruleset([]*nftables.Table{nat, fw4, dev}, chains, func(c *nftables.Chain) int { return len(c.Name) })

	require.Len(t, rs.Tables, 3)
	assert.Equal(t, NftTable{Family: "inet", Name: "fw4", Chains: 2}, rs.Tables[0])
	assert.Equal(t, NftTable{Family: "ip", Name: "nat", Chains: 1}, rs.Tables[1])
	assert.Equal(t, "netdev", rs.Tables[2].Family)

	require.Len(t, rs.Chains, 4, "chains without a table are skipped")
	assert.Equal(t, "forward_lan", rs.Chains[0].Name)
	assert.Empty(t, rs.Chains[0].Hook, "regular chains have no hook")
	assert.Nil(t, rs.Chains[0].Priority)

	input := rs.Chains[1]
	assert.Equal(t, "input", input.Hook)
	assert.Equal(t, "drop", input.Policy)
	assert.Equal(t, "filter", input.Type)
	require.NotNil(t, input.Priority)
	assert.Equal(t, int32(0), *input.Priority)
	assert.Equal(t, 5, input.Rules)

	srcnat := rs.Chains[2]
	assert.Equal(t, "postrouting", srcnat.Hook)
	assert.Equal(t, "accept", srcnat.Policy)
	assert.Equal(t, "ingress", rs.Chains[3].Hook)
}
