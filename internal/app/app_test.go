package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	require.Zero(t, code)
	require.Contains(t, out, "recollect ")
}

func TestUnknownCommandFails(t *testing.T) {
	code, _, stderr := runCLI(t, "defragment")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "defragment")
}

func TestForwardCommandWithoutDaemon(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	code, _, stderr := runCLI(t, "pause")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no recollect daemon running")
}

func TestStatusWithoutDaemon(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	code, out, _ := runCLI(t, "status")
	require.Zero(t, code)
	require.Contains(t, out, "idle (no daemon)")
}

func TestJobsCommandEmptyRegistry(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)

	code, out, _ := runCLI(t, "jobs")
	require.Zero(t, code)
	require.Contains(t, out, "no jobs registered")

	require.FileExists(t, filepath.Join(dir, "recollect", "jobs.db"))
}

func TestRetryRequiresPathArgument(t *testing.T) {
	code, _, stderr := runCLI(t, "retry")
	require.Equal(t, 1, code)
	require.NotEmpty(t, stderr)
}
