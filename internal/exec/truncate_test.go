package exec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateOutputUnderThreshold(t *testing.T) {
	require.Equal(t, "short", truncateOutput("short", 10000))
}

func TestTruncateOutputPreservesFirstAndLast3000(t *testing.T) {
	s := strings.Repeat("a", 3000) + strings.Repeat("b", 5000) + strings.Repeat("c", 3000)
	out := truncateOutput(s, 10000)
	require.True(t, strings.HasPrefix(out, strings.Repeat("a", 3000)))
	require.True(t, strings.HasSuffix(out, strings.Repeat("c", 3000)))
	require.Contains(t, out, "omitted")
}
