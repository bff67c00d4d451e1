package registry

import (
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// State is the lifecycle state of a Connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// ReconnectPolicy controls automatic reconnection after a transport failure.
type ReconnectPolicy struct {
	Enabled  bool
	MaxTries int
	Delay    time.Duration
}

// Config is the caller-supplied configuration for a Connection, mirroring the
// connect tool's argument set.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte
	Passphrase string

	Name             string
	RememberPassword bool
	Tags             []string

	KeepAlive    time.Duration
	ReadyTimeout time.Duration
	Reconnect    ReconnectPolicy
}

// Record is the non-secret, persisted view of a Connection.
type Record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Username   string    `json:"username"`
	PrivateKey []byte    `json:"privateKey,omitempty"`
	LastUsed   time.Time `json:"lastUsed"`
	Tags       []string  `json:"tags,omitempty"`
}

// Connection is the logical handle to a remote host. The registry owns the
// live *ssh.Client; every field besides the identity and config is mutated
// under mu.
type Connection struct {
	ID       string
	Config   Config

	mu               sync.Mutex
	state            State
	lastUsed         time.Time
	lastError        string
	currentDirectory string

	// execMu serializes executeCommand invocations on this connection's
	// transport — a single exec channel at a time, per the ordering
	// guarantee in the concurrency model. It is distinct from mu: SFTP,
	// shell, and tunnel channels are not subject to it.
	execMu sync.Mutex

	client       *ssh.Client
	reconnectGen int // bumped on every successful (re)connect, disconnect, delete and reported transport loss, to cancel stale reconnection loops and keepalives
}

// Snapshot is the read-only view returned to callers (dispatcher, tests).
type Snapshot struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Host             string    `json:"host"`
	Port             int       `json:"port"`
	Username         string    `json:"username"`
	State            State     `json:"state"`
	LastUsed         time.Time `json:"lastUsed"`
	LastError        string    `json:"lastError,omitempty"`
	CurrentDirectory string    `json:"currentDirectory,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
}

func (c *Connection) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:               c.ID,
		Name:             c.Config.Name,
		Host:             c.Config.Host,
		Port:             c.Config.Port,
		Username:         c.Config.Username,
		State:            c.state,
		LastUsed:         c.lastUsed,
		LastError:        c.lastError,
		CurrentDirectory: c.currentDirectory,
		Tags:             c.Config.Tags,
	}
}

// Snapshot returns a consistent, point-in-time copy of the connection's
// observable state.
func (c *Connection) Snapshot() Snapshot { return c.snapshot() }

// Client returns the live SSH client, or nil if not connected. Callers must
// not hold onto it across a reconnect.
func (c *Connection) Client() *ssh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentDirectory returns the last-observed remote working directory.
func (c *Connection) CurrentDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDirectory
}

// SetCurrentDirectory updates the tracked remote working directory, e.g.
// after a successful `cd`.
func (c *Connection) SetCurrentDirectory(dir string) {
	c.mu.Lock()
	c.currentDirectory = dir
	c.mu.Unlock()
}

// ConfigSnapshot returns a copy of the connection's current configuration,
// including in-memory secrets, safe for concurrent reads.
func (c *Connection) ConfigSnapshot() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Config
}

// Touch refreshes lastUsed.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// ExecLock/ExecUnlock serialize executeCommand on this connection's transport.
// Callers must not perform unrelated blocking I/O while holding it.
func (c *Connection) ExecLock()   { c.execMu.Lock() }
func (c *Connection) ExecUnlock() { c.execMu.Unlock() }
