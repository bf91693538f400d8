//go:build !linux

package fs

import (
	"context"
	"fmt"
)

// Statfs is a stub for non-Linux platforms.
func (h *Helper) Statfs(ctx context.Context, path string) (Usage, error) {
	return Usage{}, fmt.Errorf("statfs not available on this platform")
}
