// Package dockerbridge gives the Container Context Manager a fast path onto
// the Docker Engine API of a remote host, reusing an already-established SSH
// transport instead of opening a second TCP connection. It bridges the
// Docker client's HTTP transport over the SSH connection's "exec" channel
// running socat against the remote Unix socket, the same technique the
// teacher lineage used for its Docker-over-SSH connection pool, adapted here
// to hang off the Connection Registry's *ssh.Client rather than own its own
// dial.
package dockerbridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"golang.org/x/crypto/ssh"
)

const dockerSocketPath = "/var/run/docker.sock"

// sshPipeConn adapts an SSH session's stdin/stdout pipes to net.Conn so the
// Docker client's HTTP transport can dial through it.
type sshPipeConn struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session
}

func (c *sshPipeConn) Read(b []byte) (int, error)  { return c.stdout.Read(b) }
func (c *sshPipeConn) Write(b []byte) (int, error) { return c.stdin.Write(b) }
func (c *sshPipeConn) Close() error {
	c.stdin.Close()
	return c.session.Close()
}
func (c *sshPipeConn) LocalAddr() net.Addr         { return &net.UnixAddr{Name: "ssh-bridge", Net: "unix"} }
func (c *sshPipeConn) RemoteAddr() net.Addr        { return &net.UnixAddr{Name: dockerSocketPath, Net: "unix"} }
func (c *sshPipeConn) SetDeadline(time.Time) error { return nil }
func (c *sshPipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *sshPipeConn) SetWriteDeadline(time.Time) error { return nil }

// dial opens a fresh SSH session on sshClient and starts socat bridging its
// stdio to the remote Docker socket.
func dial(sshClient *ssh.Client) (net.Conn, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session for docker bridge: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("docker bridge stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("docker bridge stdout pipe: %w", err)
	}

	cmd := fmt.Sprintf("socat STDIO UNIX-CONNECT:%s", dockerSocketPath)
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("start docker bridge: %w", err)
	}

	return &sshPipeConn{stdin: stdin, stdout: stdout, session: session}, nil
}

// Pool caches one Docker Engine API client per connection id, each bridged
// over that connection's live SSH transport. Entries are evicted explicitly
// by the disconnect/deleteConnection tool handlers and by the broker's
// transport-loss handler — the pool itself never pings or reaps idle clients, since the
// connection registry is the sole owner of connection lifetime.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*client.Client
}

func NewPool() *Pool {
	return &Pool{clients: make(map[string]*client.Client)}
}

// Client returns the cached Docker client for connID, bridging a new one
// over sshClient on first use.
func (p *Pool) Client(connID string, sshClient *ssh.Client) (*client.Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[connID]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dial(sshClient)
			},
		},
	}

	c, err := client.NewClientWithOpts(
		client.WithHTTPClient(httpClient),
		client.WithAPIVersionNegotiation(),
		client.WithHost("http://docker-over-ssh"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridged docker client: %w", err)
	}

	p.mu.Lock()
	p.clients[connID] = c
	p.mu.Unlock()
	return c, nil
}

// Evict closes and forgets the bridged client for connID, if any.
func (p *Pool) Evict(connID string) {
	p.mu.Lock()
	c, ok := p.clients[connID]
	delete(p.clients, connID)
	p.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}
