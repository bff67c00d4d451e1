// Package registry implements the Connection Registry: identity, state, and
// reconnection policy for SSH clients. It is the broker's single owner of
// every live *ssh.Client.
package registry

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/eventbus"
	"github.com/opsctl/sshbroker/internal/store"
)

const connectionsBucket = "connections"

// TransportLostEvent is published whenever a connection's live SSH transport
// closes out from under it — a failed keepalive or an exec-channel error —
// as opposed to an explicit disconnect/delete tool call. Subscribers that own
// transport-dependent resources (tunnels, PTY sessions) use it to tear those
// down, since spec.md §4.H is explicit that tunnels "do not survive a
// reconnect of the parent connection."
type TransportLostEvent struct {
	ConnectionID string
}

// Registry owns every Connection, keyed by its deterministic identity.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	store *store.Store
	creds credential.Store

	transportLost *eventbus.Bus[TransportLostEvent]
}

func New(db *store.Store, creds credential.Store) *Registry {
	return &Registry{
		conns:         make(map[string]*Connection),
		store:         db,
		creds:         creds,
		transportLost: eventbus.New[TransportLostEvent](),
	}
}

// Events subscribes to transport-loss notifications. The returned
// unsubscribe func must be called to release the subscription.
func (r *Registry) Events() (<-chan TransportLostEvent, func()) {
	return r.transportLost.Subscribe()
}

// Get returns the connection for id, if any.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// List returns a snapshot of every known connection.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// Connect establishes (or returns the existing) connection for cfg. Per
// invariant (i), at most one live client exists per identity at a time.
func (r *Registry) Connect(ctx context.Context, cfg Config) (*Connection, error) {
	id := Identity(cfg.Username, cfg.Host, cfg.Port)

	r.mu.RLock()
	existing, ok := r.conns[id]
	r.mu.RUnlock()
	if ok && existing.State() == StateConnected {
		existing.Touch()
		return existing, nil
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		conn = &Connection{ID: id, Config: cfg, state: StateDisconnected}
		r.conns[id] = conn
	} else {
		conn.Config = cfg
	}
	r.mu.Unlock()

	// Double-checked: another goroutine may have connected while we waited
	// for the write lock.
	if conn.State() == StateConnected {
		conn.Touch()
		return conn, nil
	}

	if cfg.Password == "" && len(cfg.PrivateKey) == 0 {
		if secret, err := r.creds.Load(ctx, id); err == nil {
			conn.mu.Lock()
			conn.Config.Password = secret.Password
			conn.Config.Passphrase = secret.Passphrase
			conn.mu.Unlock()
		}
	}

	return r.dial(ctx, conn)
}

func (r *Registry) dial(ctx context.Context, conn *Connection) (*Connection, error) {
	conn.mu.Lock()
	// A dial made from reconnectLoop does not start another loop on failure.
	retrying := conn.state == StateReconnecting
	conn.state = StateConnecting
	cfg := conn.Config
	conn.mu.Unlock()

	client, err := establishSSH(ctx, cfg)
	if err != nil {
		conn.mu.Lock()
		conn.state = StateError
		conn.lastError = err.Error()
		reconnect := conn.Config.Reconnect
		gen := conn.reconnectGen
		conn.mu.Unlock()

		if reconnect.Enabled && !retrying {
			go r.reconnectLoop(conn, gen)
		}
		return nil, brokererr.Wrap(brokererr.KindConnectFailed, "establish ssh transport", err)
	}

	conn.mu.Lock()
	conn.client = client
	conn.state = StateConnected
	conn.lastError = ""
	conn.lastUsed = time.Now()
	conn.reconnectGen++
	gen := conn.reconnectGen
	conn.mu.Unlock()

	r.refreshCurrentDirectory(conn)
	r.persist(conn)
	if conn.Config.RememberPassword {
		_ = r.creds.Save(ctx, conn.ID, credential.Secret{
			Password:   conn.Config.Password,
			Passphrase: conn.Config.Passphrase,
		})
	}

	if cfg.KeepAlive > 0 {
		go r.keepalive(conn, client, cfg.KeepAlive, gen)
	}

	zap.L().Info("connection established", zap.String("connectionId", conn.ID), zap.String("host", cfg.Host))
	return conn, nil
}

// keepalive pings client on an interval. A failed ping means the transport is
// dead, so it reports the failure back to the registry instead of just
// returning — otherwise a connection that dies after a successful connect
// would stay reported as connected forever (invariant (iii), spec.md:50).
// gen pins this goroutine to the generation it was started for so a stale
// keepalive from a superseded connection never fights a newer one.
func (r *Registry) keepalive(conn *Connection, client *ssh.Client, interval time.Duration, gen int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if _, _, err := client.SendRequest("keepalive@mcp-ssh", true, nil); err != nil {
			conn.mu.Lock()
			stale := conn.reconnectGen != gen
			conn.mu.Unlock()
			if stale {
				return
			}
			r.ReportTransportError(conn.ID, err)
			return
		}
	}
}

// ReportTransportError marks conn's transport as dead and, if reconnect is
// enabled, schedules the reconnect loop. Called by keepalive on a failed ping
// and by the Command Execution Engine when an exec-channel error indicates
// the transport itself died rather than the command merely failing.
func (r *Registry) ReportTransportError(id string, cause error) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	if conn.state != StateConnected {
		conn.mu.Unlock()
		return
	}
	client := conn.client
	conn.client = nil
	conn.state = StateError
	if cause != nil {
		conn.lastError = cause.Error()
	}
	reconnect := conn.Config.Reconnect
	conn.reconnectGen++
	gen := conn.reconnectGen
	conn.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}

	zap.L().Warn("connection transport lost", zap.String("connectionId", id), zap.Error(cause))
	r.transportLost.Publish(TransportLostEvent{ConnectionID: id})

	if reconnect.Enabled {
		go r.reconnectLoop(conn, gen)
	}
}

func establishSSH(ctx context.Context, cfg Config) (*ssh.Client, error) {
	auths := []ssh.AuthMethod{}
	if len(cfg.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
		}
		if err != nil {
			return nil, brokererr.Wrap(brokererr.KindAuthFailed, "parse private key", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auths = append(auths, ssh.Password(cfg.Password))
	}
	if len(auths) == 0 {
		return nil, brokererr.New(brokererr.KindAuthFailed, "no password or private key supplied")
	}

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 10 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         readyTimeout,
	}
	if cfg.KeepAlive > 0 {
		clientCfg.Timeout = readyTimeout
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := net.Dialer{Timeout: readyTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	return client, nil
}

// refreshCurrentDirectory issues `pwd` over a fresh session and records the
// result, per connect step 4.
func (r *Registry) refreshCurrentDirectory(conn *Connection) {
	client := conn.Client()
	if client == nil {
		return
	}
	session, err := client.NewSession()
	if err != nil {
		return
	}
	defer session.Close()

	out, err := session.Output("pwd")
	if err != nil {
		return
	}
	conn.SetCurrentDirectory(strings.TrimSpace(string(out)))
}

func (r *Registry) persist(conn *Connection) {
	conn.mu.Lock()
	rec := Record{
		ID:         conn.ID,
		Name:       conn.Config.Name,
		Host:       conn.Config.Host,
		Port:       conn.Config.Port,
		Username:   conn.Config.Username,
		PrivateKey: conn.Config.PrivateKey,
		LastUsed:   conn.lastUsed,
		Tags:       conn.Config.Tags,
	}
	conn.mu.Unlock()

	if err := r.store.Put(connectionsBucket, conn.ID, rec); err != nil {
		zap.L().Warn("failed to persist connection record", zap.String("connectionId", conn.ID), zap.Error(err))
	}
}

// Disconnect closes the live client (if any) without removing the registry
// entry or stored record.
func (r *Registry) Disconnect(id string) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	conn.mu.Lock()
	client := conn.client
	conn.client = nil
	conn.state = StateDisconnected
	conn.reconnectGen++ // invalidate any in-flight reconnect loop
	conn.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	return true
}

// Delete disconnects, then removes the registry entry, persisted record, and
// stored credentials.
func (r *Registry) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	conn.mu.Lock()
	client := conn.client
	conn.client = nil
	conn.reconnectGen++
	conn.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}

	_ = r.store.Delete(connectionsBucket, id)
	_ = r.creds.Delete(ctx, id)
	return true
}
