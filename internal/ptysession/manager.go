package ptysession

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/eventbus"
	"github.com/opsctl/sshbroker/internal/idgen"
	"github.com/opsctl/sshbroker/internal/registry"
)

// Manager is the Interactive PTY Manager.
type Manager struct {
	registry *registry.Registry
	creds    credential.Store
	events   *eventbus.Bus[TerminalDataEvent]

	mu       sync.Mutex
	sessions map[string]*Session

	idleTimeout time.Duration
}

func New(reg *registry.Registry, creds credential.Store, idleTimeout time.Duration) *Manager {
	return &Manager{
		registry:    reg,
		creds:       creds,
		events:      eventbus.New[TerminalDataEvent](),
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

// Events subscribes to every session's terminal_data fan-out.
func (m *Manager) Events() (<-chan TerminalDataEvent, func()) { return m.events.Subscribe() }

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Create opens an SSH "shell" channel with a PTY for connID.
func (m *Manager) Create(ctx context.Context, connID string, opts CreateOptions) (string, error) {
	conn, ok := m.registry.Get(connID)
	if !ok || conn.State() != registry.StateConnected {
		return "", brokererr.New(brokererr.KindNotConnected, "connection "+connID+" is not connected")
	}
	client := conn.Client()
	if client == nil {
		return "", brokererr.New(brokererr.KindNotConnected, "connection "+connID+" has no live transport")
	}

	rows, cols, term := opts.Rows, opts.Cols, opts.Term
	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}
	if term == "" {
		term = defaultTerm
	}

	sshSession, err := client.NewSession()
	if err != nil {
		return "", brokererr.Wrap(brokererr.KindInternal, "open ssh session for terminal", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sshSession.RequestPty(term, rows, cols, modes); err != nil {
		sshSession.Close()
		return "", brokererr.Wrap(brokererr.KindInternal, "request pty", err)
	}

	stdin, err := sshSession.StdinPipe()
	if err != nil {
		sshSession.Close()
		return "", brokererr.Wrap(brokererr.KindInternal, "terminal stdin pipe", err)
	}
	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		sshSession.Close()
		return "", brokererr.Wrap(brokererr.KindInternal, "terminal stdout pipe", err)
	}

	if err := sshSession.Shell(); err != nil {
		sshSession.Close()
		return "", brokererr.Wrap(brokererr.KindInternal, "start shell", err)
	}

	id := idgen.NewSessionID()
	now := time.Now()
	s := &Session{
		ID:           id,
		ConnectionID: connID,
		Rows:         rows,
		Cols:         cols,
		Term:         term,
		IsActive:     true,
		StartTime:    now,
		LastActivity: now,
		session:      sshSession,
		stdin:        &sessionWriter{w: stdin},
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go m.pump(s, stdout)
	return id, nil
}

// pump reads output chunks, publishes them, and feeds a stored sudo password
// exactly once when a recognized prompt substring appears.
func (m *Manager) pump(s *Session, stdout io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.events.Publish(TerminalDataEvent{SessionID: s.ID, Data: chunk})

			s.mu.Lock()
			s.LastActivity = time.Now()
			alreadyPrompted := s.sudoPasswordPrompt
			s.mu.Unlock()

			if !alreadyPrompted && containsAny(chunk, sudoPromptMarkers) {
				s.mu.Lock()
				s.sudoPasswordPrompt = true
				s.mu.Unlock()
				go m.autoFillSudoPassword(s)
			}
		}
		if err != nil {
			break
		}
	}

	m.mu.Lock()
	s.IsActive = false
	m.mu.Unlock()
}

func containsAny(chunk []byte, markers []string) bool {
	for _, marker := range markers {
		if bytes.Contains(chunk, []byte(marker)) {
			return true
		}
	}
	return false
}

func (m *Manager) autoFillSudoPassword(s *Session) {
	password := m.sudoPassword(s.ConnectionID)
	if password == "" {
		return
	}
	if _, err := s.stdin.Write([]byte(password + "\n")); err != nil {
		zap.L().Warn("sudo auto-fill write failed", zap.String("sessionId", s.ID), zap.Error(err))
	}
}

func (m *Manager) sudoPassword(connID string) string {
	if conn, ok := m.registry.Get(connID); ok {
		if pw := conn.ConfigSnapshot().Password; pw != "" {
			return pw
		}
	}
	secret, err := m.creds.Load(context.Background(), connID)
	if err != nil {
		return ""
	}
	return secret.Password
}

// Write forwards data to sessionId's channel. An explicit write from the
// orchestrator always clears the one-shot sudo auto-fill flag, whether or not
// it has already fired.
func (m *Manager) Write(sessionID string, data []byte) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return brokererr.New(brokererr.KindSessionClosed, "unknown terminal session "+sessionID)
	}
	if !s.IsActive {
		return brokererr.New(brokererr.KindSessionClosed, "terminal session "+sessionID+" is closed")
	}

	s.mu.Lock()
	s.sudoPasswordPrompt = false
	s.LastActivity = time.Now()
	s.mu.Unlock()

	if _, err := s.stdin.Write(data); err != nil {
		return brokererr.Wrap(brokererr.KindInternal, "write to terminal", err)
	}
	return nil
}

// Resize sends a window-change request and updates the record.
func (m *Manager) Resize(sessionID string, rows, cols int) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return brokererr.New(brokererr.KindSessionClosed, "unknown terminal session "+sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsActive {
		return brokererr.New(brokererr.KindSessionClosed, "terminal session "+sessionID+" is closed")
	}
	if err := s.session.WindowChange(rows, cols); err != nil {
		return brokererr.Wrap(brokererr.KindInternal, "resize terminal", err)
	}
	s.Rows, s.Cols = rows, cols
	return nil
}

// Close ends the channel and erases the record. Idempotent.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.IsActive = false
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// CloseAllForConnection tears down every terminal session bound to connID,
// mirroring the tunnel manager's reconnect-time cleanup.
func (m *Manager) CloseAllForConnection(connID string) {
	m.mu.Lock()
	var ids []string
	for id, s := range m.sessions {
		if s.ConnectionID == connID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

// SweepIdle auto-closes sessions whose lastActivity exceeds the idle
// timeout (default 24 hours).
func (m *Manager) SweepIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.LastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		_ = m.Close(id)
	}
}

// StartSweeper runs SweepIdle on a ticker until stop is closed.
func (m *Manager) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.SweepIdle()
			}
		}
	}()
}
