// Package dockercontext implements the Container Context Manager: it tracks
// the active Docker container per connection and caches container listings.
package dockercontext

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Session is a per (connection, container) tracked execution context.
type Session struct {
	ConnectionID     string
	ContainerName    string
	WorkingDirectory string
	Env              map[string]string
	User             string
	LastActivity      time.Time
	IsActive          bool
}

type cachedList struct {
	names     []string
	fetchedAt time.Time
}

// Manager owns every ContainerSession and the per-connection container-list
// cache. Sessions are guarded by mu and the list cache by cacheMu; callers
// must not perform SSH I/O while holding either.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session // key: connectionID + "\x00" + containerName

	cacheMu   sync.Mutex
	listCache map[string]cachedList

	cacheTTL     time.Duration
	inactiveAfter time.Duration
}

func New(cacheTTL, inactiveAfter time.Duration) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		listCache:     make(map[string]cachedList),
		cacheTTL:      cacheTTL,
		inactiveAfter: inactiveAfter,
	}
}

func key(connID, name string) string { return connID + "\x00" + name }

// SetContext upserts the session for (conn, name) and refreshes lastActivity.
func (m *Manager) SetContext(connID, name, workdir, user string, env map[string]string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(connID, name)
	s, ok := m.sessions[k]
	if !ok {
		s = &Session{ConnectionID: connID, ContainerName: name, Env: map[string]string{}}
		m.sessions[k] = s
	}
	if workdir != "" {
		s.WorkingDirectory = workdir
	}
	if user != "" {
		s.User = user
	}
	for k, v := range env {
		s.Env[k] = v
	}
	s.LastActivity = time.Now()
	s.IsActive = true
	return s
}

// GetActiveContainer returns the most-recently-active, still-active
// session's container name for connID, or ok=false if none.
func (m *Manager) GetActiveContainer(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Session
	for _, s := range m.sessions {
		if s.ConnectionID != connID || !s.IsActive {
			continue
		}
		if best == nil || s.LastActivity.After(best.LastActivity) {
			best = s
		}
	}
	if best == nil {
		return "", false
	}
	return best.ContainerName, true
}

// Get returns the session for (connID, name), if any.
func (m *Manager) Get(connID, name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key(connID, name)]
	return s, ok
}

// ExitContainer clears the active container for connID without deleting the
// session from history (supplements §4.E's open question about escaping a
// sticky active container).
func (m *Manager) ExitContainer(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ConnectionID == connID {
			s.IsActive = false
		}
	}
}

// BuildExec reassembles a docker exec invocation from a session's tracked
// context. Non-interactive is the default.
func BuildExec(name, innerCommand string, session *Session, interactive bool) string {
	var b strings.Builder
	b.WriteString("docker exec ")
	if interactive {
		b.WriteString("-it ")
	}
	if session != nil {
		if session.WorkingDirectory != "" {
			fmt.Fprintf(&b, "-w %s ", session.WorkingDirectory)
		}
		if session.User != "" {
			fmt.Fprintf(&b, "-u %s ", session.User)
		}
		keys := make([]string, 0, len(session.Env))
		for k := range session.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "-e %s=%s ", k, session.Env[k])
		}
	}
	fmt.Fprintf(&b, "%s %s", name, innerCommand)
	return b.String()
}

// CacheList stores the most recent container list for connID.
func (m *Manager) CacheList(connID string, names []string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.listCache[connID] = cachedList{names: names, fetchedAt: time.Now()}
}

// CachedList returns the cached list for connID if it is younger than the
// cache TTL (ignored if forceRefresh is true).
func (m *Manager) CachedList(connID string, forceRefresh bool) ([]string, bool) {
	if forceRefresh {
		return nil, false
	}
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	entry, ok := m.listCache[connID]
	if !ok || time.Since(entry.fetchedAt) > m.cacheTTL {
		return nil, false
	}
	return entry.names, true
}

// ResolveList returns the cached container list for connID, refreshing it via
// fetch on a cache miss or forceRefresh. fetch is called without m's locks
// held, per the "no I/O under lock" policy.
func (m *Manager) ResolveList(connID string, forceRefresh bool, fetch func() ([]string, error)) ([]string, error) {
	if names, ok := m.CachedList(connID, forceRefresh); ok {
		return names, nil
	}
	names, err := fetch()
	if err != nil {
		return nil, err
	}
	m.CacheList(connID, names)
	return names, nil
}

// KnownContainer reports whether name appears in the most recently cached
// list for connID, refreshing the cache via fetch first.
func (m *Manager) KnownContainer(connID, name string, forceRefresh bool, fetch func() ([]string, error)) (bool, error) {
	names, err := m.ResolveList(connID, forceRefresh, fetch)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// SweepInactive marks sessions idle for longer than inactiveAfter as
// inactive. Sessions are never deleted — only their IsActive flag changes.
func (m *Manager) SweepInactive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.inactiveAfter)
	for _, s := range m.sessions {
		if s.IsActive && s.LastActivity.Before(cutoff) {
			s.IsActive = false
		}
	}
}

// StartSweeper runs SweepInactive on a ticker until stop is closed.
func (m *Manager) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.SweepInactive()
			}
		}
	}()
}
