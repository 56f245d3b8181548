package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringContainsBuildMetadata(t *testing.T) {
	s := String()
	require.True(t, strings.HasPrefix(s, "recollect "))
	require.Contains(t, s, "commit=")
	require.Contains(t, s, "go=go")
}
