package singleton

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireThenReleaseCleansUpLockfile(t *testing.T) {
	dir := t.TempDir()
	g, err := Acquire("", dir)
	require.NoError(t, err)

	path := filepath.Join(dir, lockfileName)
	_, err = os.Stat(path)
	require.NoError(t, err)

	g.Release()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAcquireRemovesStaleLockfileFromDeadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, lockfileName)
	require.NoError(t, writePayload(path, payload{PID: 999999999, InstanceID: "inst_dead"}))

	g, err := Acquire("", dir)
	require.NoError(t, err)
	defer g.Release()

	require.NotEqual(t, "inst_dead", g.instanceID)
}

func TestReleaseDoesNotRemoveLockfileTakenOverBySuccessor(t *testing.T) {
	dir := t.TempDir()
	g, err := Acquire("", dir)
	require.NoError(t, err)

	path := filepath.Join(dir, lockfileName)
	require.NoError(t, writePayload(path, payload{PID: os.Getpid(), InstanceID: "someone_else"}))

	g.Release()
	_, err = os.Stat(path)
	require.NoError(t, err, "release must not remove a lockfile claimed by a different instanceId")
}

func TestPidLiveDetectsCurrentProcess(t *testing.T) {
	require.True(t, pidLive(os.Getpid()))
	require.False(t, pidLive(999999999))
}
