//go:build !linux
// +build !linux

package status

import (
	"context"

	"grimm.is/luci/internal/rpc"
)

func listInterfaces(ctx context.Context) ([]Interface, error) {
	return nil, rpc.ErrNotSupported
}
