package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/store"
)

func TestIdentityDeterministic(t *testing.T) {
	a := Identity("root", "example.com", 22)
	b := Identity("root", "example.com", 22)
	require.Equal(t, a, b)

	c := Identity("root", "example.com", 2222)
	require.NotEqual(t, a, c)
}

type memCreds struct{ secrets map[string]credential.Secret }

func newMemCreds() *memCreds { return &memCreds{secrets: map[string]credential.Secret{}} }

func (m *memCreds) Save(_ context.Context, id string, s credential.Secret) error {
	m.secrets[id] = s
	return nil
}
func (m *memCreds) Load(_ context.Context, id string) (credential.Secret, error) {
	return m.secrets[id], nil
}
func (m *memCreds) Delete(_ context.Context, id string) error {
	delete(m.secrets, id)
	return nil
}

func TestDisconnectAndDeleteOnUnknownConnection(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	reg := New(db, newMemCreds())
	require.False(t, reg.Disconnect("missing"))
	require.False(t, reg.Delete(context.Background(), "missing"))
	require.Empty(t, reg.List())
}

func TestDeleteRemovesRegistryEntryAndCredentials(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	creds := newMemCreds()
	reg := New(db, creds)

	id := Identity("u", "h", 22)
	reg.mu.Lock()
	conn := &Connection{ID: id, Config: Config{Host: "h", Port: 22, Username: "u"}, state: StateConnected}
	reg.conns[id] = conn
	reg.mu.Unlock()
	creds.secrets[id] = credential.Secret{Password: "p"}

	require.True(t, reg.Delete(context.Background(), id))
	_, ok := reg.Get(id)
	require.False(t, ok)
	_, hasCred := creds.secrets[id]
	require.False(t, hasCred)
}

func TestReportTransportErrorPublishesTransportLostEvent(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	reg := New(db, newMemCreds())

	id := Identity("u", "h", 22)
	reg.mu.Lock()
	conn := &Connection{ID: id, Config: Config{Host: "h", Port: 22, Username: "u"}, state: StateConnected}
	reg.conns[id] = conn
	reg.mu.Unlock()

	events, unsubscribe := reg.Events()
	defer unsubscribe()

	reg.ReportTransportError(id, errors.New("keepalive failed"))

	select {
	case ev := <-events:
		require.Equal(t, id, ev.ConnectionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TransportLostEvent")
	}
	require.Equal(t, StateError, conn.State())
}
