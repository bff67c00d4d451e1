package tunnel

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/registry"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestCreateTunnelRejectsUnknownConnection(t *testing.T) {
	reg := registry.New(nil, nil)
	m := New(reg)

	_, err := m.CreateTunnel(CreateTunnelRequest{
		ConnectionID: "missing",
		LocalPort:    freePort(t),
		RemoteHost:   "db",
		RemotePort:   5432,
	})
	require.Error(t, err)
	require.Equal(t, brokererr.KindNotConnected, brokererr.KindOf(err))
}

func TestCreateTunnelRejectsPortAlreadyBound(t *testing.T) {
	reg := registry.New(nil, nil)
	m := New(reg)

	id := registry.Identity("u", "h", 22)
	reg.TestingInsertConnected(id, "h", 22, "u")

	port := freePort(t)

	first, err := m.CreateTunnel(CreateTunnelRequest{
		ConnectionID: id,
		LocalPort:    port,
		RemoteHost:   "db",
		RemotePort:   5432,
	})
	require.NoError(t, err)
	defer m.CloseTunnel(first.ID)

	_, err = m.CreateTunnel(CreateTunnelRequest{
		ConnectionID: id,
		LocalPort:    port,
		RemoteHost:   "other",
		RemotePort:   6379,
	})
	require.Error(t, err)
	require.Equal(t, brokererr.KindTunnelPortInUse, brokererr.KindOf(err))
}

func TestCloseTunnelIsIdempotent(t *testing.T) {
	m := New(registry.New(nil, nil))
	require.False(t, m.CloseTunnel("no-such-tunnel"))
	require.False(t, m.CloseTunnel("no-such-tunnel"))
}

func TestListAndGetOnEmptyManager(t *testing.T) {
	m := New(registry.New(nil, nil))
	require.Empty(t, m.List())
	_, ok := m.Get("missing")
	require.False(t, ok)
}
