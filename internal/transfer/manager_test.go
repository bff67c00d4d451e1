package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/registry"
	"github.com/opsctl/sshbroker/internal/store"
)

func TestTransferProgress(t *testing.T) {
	tr := &Transfer{Size: 200, BytesTransferred: 50}
	require.Equal(t, 25, tr.progress())
}

func TestTransferProgressZeroSize(t *testing.T) {
	tr := &Transfer{Size: 0, BytesTransferred: 0}
	require.Equal(t, 0, tr.progress())
}

func newManagerForTest(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg := registry.New(db, noopCreds{})
	return New(reg, time.Hour)
}

type noopCreds struct{}

func (noopCreds) Save(ctx context.Context, id string, s credential.Secret) error { return nil }
func (noopCreds) Load(ctx context.Context, id string) (credential.Secret, error) {
	return credential.Secret{}, nil
}
func (noopCreds) Delete(ctx context.Context, id string) error { return nil }

func TestSweepTerminalRemovesOldRecords(t *testing.T) {
	m := newManagerForTest(t)
	old := &Transfer{ID: "old", Status: StatusCompleted, EndTime: time.Now().Add(-2 * time.Hour)}
	recent := &Transfer{ID: "recent", Status: StatusCompleted, EndTime: time.Now()}
	m.transfers["old"] = old
	m.transfers["recent"] = recent

	m.SweepTerminal()

	_, ok := m.Get("old")
	require.False(t, ok)
	_, ok = m.Get("recent")
	require.True(t, ok)
}
