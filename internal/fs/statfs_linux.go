//go:build linux

package fs

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Statfs reports the capacity of the filesystem holding path.
func (h *Helper) Statfs(ctx context.Context, path string) (Usage, error) {
	path, err := h.check(path)
	if err != nil {
		return Usage{}, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Total: st.Blocks * bsize,
		Free:  st.Bfree * bsize,
		Avail: st.Bavail * bsize,
		Files: st.Files,
		Ffree: st.Ffree,
	}, nil
}
