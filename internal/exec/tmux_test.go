package exec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTmuxSendKeysSessionMatches(t *testing.T) {
	sess, ok := tmuxSendKeysSession("tmux send-keys -t s 'ls' Enter")
	require.True(t, ok)
	require.Equal(t, "s", sess)
}

func TestTmuxSendKeysSessionNoMatch(t *testing.T) {
	_, ok := tmuxSendKeysSession("tmux new-session -s s")
	require.False(t, ok)
}

func TestIsTmuxRelated(t *testing.T) {
	require.True(t, isTmuxRelated("tmux capture-pane -t s"))
	require.False(t, isTmuxRelated("ls -la"))
}
