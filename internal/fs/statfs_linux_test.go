//go:build linux

package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelper_Statfs(t *testing.T) {
	dir := t.TempDir()
	h := New(Config{Allow: []string{dir}})

	u, err := h.Statfs(context.Background(), dir)
	require.NoError(t, err)
	assert.NotZero(t, u.Total)
	assert.LessOrEqual(t, u.Avail, u.Total)

	_, err = h.Statfs(context.Background(), "/")
	assert.ErrorIs(t, err, ErrNotAllowed)
}
