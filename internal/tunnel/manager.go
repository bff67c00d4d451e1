package tunnel

import (
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/idgen"
	"github.com/opsctl/sshbroker/internal/registry"
)

// Manager owns every active Tunnel, enforcing the one-tunnel-per-localPort
// invariant.
type Manager struct {
	registry *registry.Registry

	mu         sync.Mutex
	tunnels    map[string]*Tunnel
	boundPorts map[int]string // localPort -> tunnel id
}

func New(reg *registry.Registry) *Manager {
	return &Manager{
		registry:   reg,
		tunnels:    make(map[string]*Tunnel),
		boundPorts: make(map[int]string),
	}
}

// CreateTunnelRequest are the arguments to CreateTunnel.
type CreateTunnelRequest struct {
	ConnectionID string
	LocalPort    int
	RemoteHost   string
	RemotePort   int
	Description  string
}

// CreateTunnel rejects if localPort is already bound, otherwise binds a
// listener and bridges every inbound socket to the remote endpoint through
// a direct-tcpip channel.
func (m *Manager) CreateTunnel(req CreateTunnelRequest) (*Tunnel, error) {
	m.mu.Lock()
	if _, bound := m.boundPorts[req.LocalPort]; bound {
		m.mu.Unlock()
		return nil, brokererr.New(brokererr.KindTunnelPortInUse, fmt.Sprintf("local port %d already bound", req.LocalPort))
	}

	conn, ok := m.registry.Get(req.ConnectionID)
	if !ok || conn.State() != registry.StateConnected {
		m.mu.Unlock()
		return nil, brokererr.New(brokererr.KindNotConnected, "connection "+req.ConnectionID+" is not connected")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", req.LocalPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		m.mu.Unlock()
		return nil, brokererr.Wrap(brokererr.KindTunnelForwardErr, "bind local listener", err)
	}

	t := &Tunnel{
		ID: idgen.NewTunnelID(), ConnectionID: req.ConnectionID, LocalPort: req.LocalPort,
		RemoteHost: req.RemoteHost, RemotePort: req.RemotePort, Description: req.Description,
		active: true, listener: listener, pairs: make(map[*pair]struct{}),
	}
	m.tunnels[t.ID] = t
	m.boundPorts[req.LocalPort] = t.ID
	m.mu.Unlock()

	go m.acceptLoop(t)
	return t, nil
}

func (m *Manager) acceptLoop(t *Tunnel) {
	for {
		localConn, err := t.listener.Accept()
		if err != nil {
			return // listener closed by closeTunnel
		}
		go m.bridge(t, localConn)
	}
}

// bridge opens a direct-tcpip channel for one inbound socket and copies
// bytes bidirectionally. Any error on either side tears down just this pair.
func (m *Manager) bridge(t *Tunnel, localConn net.Conn) {
	conn, ok := m.registry.Get(t.ConnectionID)
	if !ok {
		localConn.Close()
		return
	}
	client := conn.Client()
	if client == nil {
		localConn.Close()
		return
	}

	remoteConn, err := client.Dial("tcp", fmt.Sprintf("%s:%d", t.RemoteHost, t.RemotePort))
	if err != nil {
		zap.L().Warn("tunnel forward failed", zap.String("tunnelId", t.ID), zap.Error(err))
		localConn.Close()
		return
	}

	p := &pair{local: localConn, remote: remoteConn}
	t.trackPair(p)
	defer func() {
		t.untrackPair(p)
		localConn.Close()
		remoteConn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(remoteConn, localConn) }()
	go func() { defer wg.Done(); io.Copy(localConn, remoteConn) }()
	wg.Wait()
}

// CloseTunnel removes the listener, destroys every live socket pair, and
// erases the tunnel record. Idempotent.
func (m *Manager) CloseTunnel(id string) bool {
	m.mu.Lock()
	t, ok := m.tunnels[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.tunnels, id)
	delete(m.boundPorts, t.LocalPort)
	m.mu.Unlock()

	t.mu.Lock()
	t.active = false
	_ = t.listener.Close()
	pairs := make([]*pair, 0, len(t.pairs))
	for p := range t.pairs {
		pairs = append(pairs, p)
	}
	t.mu.Unlock()

	for _, p := range pairs {
		p.local.Close()
		p.remote.Close()
	}
	return true
}

// CloseAllForConnection tears down every tunnel bound to connID — tunnels do
// not survive a reconnect of the parent connection.
func (m *Manager) CloseAllForConnection(connID string) {
	m.mu.Lock()
	ids := make([]string, 0)
	for id, t := range m.tunnels {
		if t.ConnectionID == connID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseTunnel(id)
	}
}

func (m *Manager) Get(id string) (*Tunnel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tunnels[id]
	return t, ok
}

func (m *Manager) List() []*Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		out = append(out, t)
	}
	return out
}
