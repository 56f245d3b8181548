package jobs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(filepath.Join(t.TempDir(), "state", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegisterAndList(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "job-1", "content-1", "p1", "standup"))
	require.NoError(t, reg.Register(ctx, "job-2", "content-2", "p2", "retro"))

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "job-2", all[0].JobID)
	require.Equal(t, "content-2", all[0].ContentID)
	require.Equal(t, "p2", all[0].ScopeID)
	require.Equal(t, "standup", all[1].Title)
	require.False(t, all[0].CreatedAt.IsZero())
}

func TestRegisterSameJobTwiceKeepsOneRow(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "job-1", "content-1", "p1", "standup"))
	require.NoError(t, reg.Register(ctx, "job-1", "content-9", "p1", "standup"))

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "content-9", all[0].ContentID)
}

func TestRegisterRequiresJobID(t *testing.T) {
	reg := openTestRegistry(t)
	require.Error(t, reg.Register(context.Background(), "", "c", "p", "t"))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
