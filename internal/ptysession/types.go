// Package ptysession implements the Interactive PTY Manager: shell channels
// backed by an SSH "shell" request, with data fan-out over the event bus and
// automatic one-shot sudo-password feeding.
package ptysession

import (
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Session is a PTY-backed shell channel.
type Session struct {
	ID           string
	ConnectionID string
	Rows         int
	Cols         int
	Term         string
	IsActive     bool
	StartTime    time.Time
	LastActivity time.Time

	mu                 sync.Mutex
	session            *ssh.Session
	stdin              *sessionWriter
	sudoPasswordPrompt bool
}

// sessionWriter serializes writes to the underlying ssh.Session's stdin pipe
// so sudo auto-fill and orchestrator writes never interleave.
type sessionWriter struct {
	mu sync.Mutex
	w  interface {
		Write([]byte) (int, error)
	}
}

func (s *sessionWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// TerminalDataEvent is published for every chunk of output a session
// produces, tagged with the session it came from.
type TerminalDataEvent struct {
	SessionID string
	Data      []byte
}

// CreateOptions are the optional arguments to Create.
type CreateOptions struct {
	Rows int
	Cols int
	Term string
}

const (
	defaultRows = 24
	defaultCols = 80
	defaultTerm = "xterm-256color"
)

var sudoPromptMarkers = []string{
	"[sudo] password for",
	"Password:",
	"密码：",
}
