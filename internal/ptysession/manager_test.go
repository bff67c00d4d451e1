package ptysession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/registry"
	"github.com/opsctl/sshbroker/internal/store"
)

type noopCreds struct{}

func (noopCreds) Save(ctx context.Context, id string, s credential.Secret) error { return nil }
func (noopCreds) Load(ctx context.Context, id string) (credential.Secret, error) {
	return credential.Secret{}, nil
}
func (noopCreds) Delete(ctx context.Context, id string) error { return nil }

func newManagerForTest(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := registry.New(db, noopCreds{})
	return New(reg, noopCreds{}, 24*time.Hour)
}

func TestContainsAnySudoMarkers(t *testing.T) {
	require.True(t, containsAny([]byte("[sudo] password for root:"), sudoPromptMarkers))
	require.True(t, containsAny([]byte("Password: "), sudoPromptMarkers))
	require.True(t, containsAny([]byte("请输入密码：123"), sudoPromptMarkers))
	require.False(t, containsAny([]byte("ordinary shell prompt $"), sudoPromptMarkers))
}

func TestWriteUnknownSessionErrors(t *testing.T) {
	m := newManagerForTest(t)
	err := m.Write("missing", []byte("x"))
	require.Error(t, err)
}

func TestResizeUnknownSessionErrors(t *testing.T) {
	m := newManagerForTest(t)
	err := m.Resize("missing", 24, 80)
	require.Error(t, err)
}

func TestCloseUnknownSessionIsIdempotent(t *testing.T) {
	m := newManagerForTest(t)
	require.NoError(t, m.Close("missing"))
	require.NoError(t, m.Close("missing"))
}

func TestSweepIdleClosesOnlyStaleSessions(t *testing.T) {
	m := newManagerForTest(t)

	stale := &Session{ID: "stale", ConnectionID: "c1", IsActive: true, LastActivity: time.Now().Add(-48 * time.Hour)}
	fresh := &Session{ID: "fresh", ConnectionID: "c1", IsActive: true, LastActivity: time.Now()}
	m.sessions["stale"] = stale
	m.sessions["fresh"] = fresh

	m.SweepIdle()

	_, ok := m.Get("stale")
	require.False(t, ok)
	_, ok = m.Get("fresh")
	require.True(t, ok)
}
