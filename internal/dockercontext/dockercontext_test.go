package dockercontext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetContextAndActiveContainer(t *testing.T) {
	m := New(30*time.Second, 30*time.Minute)
	m.SetContext("conn1", "web", "/srv", "www-data", nil)

	name, ok := m.GetActiveContainer("conn1")
	require.True(t, ok)
	require.Equal(t, "web", name)

	s, ok := m.Get("conn1", "web")
	require.True(t, ok)
	require.Equal(t, "/srv", s.WorkingDirectory)
	require.Equal(t, "www-data", s.User)
}

func TestMostRecentlyActiveWins(t *testing.T) {
	m := New(30*time.Second, 30*time.Minute)
	m.SetContext("conn1", "a", "", "", nil)
	time.Sleep(2 * time.Millisecond)
	m.SetContext("conn1", "b", "", "", nil)

	name, ok := m.GetActiveContainer("conn1")
	require.True(t, ok)
	require.Equal(t, "b", name)
}

func TestExitContainerClearsActive(t *testing.T) {
	m := New(30*time.Second, 30*time.Minute)
	m.SetContext("conn1", "web", "", "", nil)
	m.ExitContainer("conn1")

	_, ok := m.GetActiveContainer("conn1")
	require.False(t, ok)
}

func TestBuildExec(t *testing.T) {
	s := &Session{WorkingDirectory: "/srv", User: "www-data", Env: map[string]string{"FOO": "bar"}}
	cmd := BuildExec("web", "ls", s, false)
	require.Equal(t, "docker exec -w /srv -u www-data -e FOO=bar web ls", cmd)
}

func TestCachedListTTL(t *testing.T) {
	m := New(10*time.Millisecond, 30*time.Minute)
	m.CacheList("conn1", []string{"web", "db"})

	names, ok := m.CachedList("conn1", false)
	require.True(t, ok)
	require.Equal(t, []string{"web", "db"}, names)

	time.Sleep(20 * time.Millisecond)
	_, ok = m.CachedList("conn1", false)
	require.False(t, ok)
}

func TestSweepInactive(t *testing.T) {
	m := New(30*time.Second, time.Millisecond)
	m.SetContext("conn1", "web", "", "", nil)
	time.Sleep(5 * time.Millisecond)
	m.SweepInactive()

	_, ok := m.GetActiveContainer("conn1")
	require.False(t, ok)
}
