package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsctl/sshbroker/internal/store"
)

func TestEncryptedStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	es, err := NewEncryptedStore(db, dir, "test-seal-material")
	require.NoError(t, err)

	ctx := context.Background()
	want := Secret{Password: "hunter2", Passphrase: "keypass"}
	require.NoError(t, es.Save(ctx, "conn-1", want))

	got, err := es.Load(ctx, "conn-1")
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, es.Delete(ctx, "conn-1"))
	got, err = es.Load(ctx, "conn-1")
	require.NoError(t, err)
	require.Equal(t, Secret{}, got)
}

func TestEncryptedStoreSealKeyPersistence(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	es1, err := NewEncryptedStore(db, dir, "")
	require.NoError(t, err)
	require.NoError(t, es1.Save(context.Background(), "conn-2", Secret{Password: "p"}))

	es2, err := NewEncryptedStore(db, dir, "")
	require.NoError(t, err)
	got, err := es2.Load(context.Background(), "conn-2")
	require.NoError(t, err)
	require.Equal(t, "p", got.Password)
}
