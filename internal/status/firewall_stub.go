//go:build !linux
// +build !linux

package status

import (
	"context"

	"grimm.is/luci/internal/rpc"
)

func listRuleset(ctx context.Context) (Ruleset, error) {
	return Ruleset{}, rpc.ErrNotSupported
}
