package exec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplySudoDispatchRewritesAndPipesPassword(t *testing.T) {
	got := applySudoDispatch("sudo -n id", "p")
	require.Equal(t, `echo "p" | sudo -S -n id 2>/dev/null`, got)
}

func TestApplySudoDispatchNoPasswordLeavesCommandAlone(t *testing.T) {
	got := applySudoDispatch("sudo -n id", "")
	require.Equal(t, "sudo -n id", got)
}

func TestApplySudoDispatchNoSudoTokenLeavesCommandAlone(t *testing.T) {
	got := applySudoDispatch("echo sudoku", "p")
	require.Equal(t, "echo sudoku", got)
}
