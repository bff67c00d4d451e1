// Package singleton implements the Process Singleton Guard: at most one
// broker instance runs per host user. A stale holder is detected two ways —
// a dead PID and a released flock — and a live holder is given a chance to
// exit gracefully before startup aborts.
package singleton

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/opsctl/sshbroker/internal/idgen"
)

const (
	lockfileName       = "sshbrokerd.lock"
	takeoverPollEvery  = 200 * time.Millisecond
	takeoverPollWindow = 5 * time.Second
)

// payload is the JSON body written to the lockfile.
type payload struct {
	PID        int       `json:"pid"`
	InstanceID string    `json:"instanceId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Guard holds the acquired lock for the lifetime of the process.
type Guard struct {
	path       string
	instanceID string
	flock      *flock.Flock
}

// Acquire resolves the lockfile path (explicit path or dataDir/sshbrokerd.lock),
// attempts graceful takeover of a stale holder, and writes this process's
// payload. It returns an error when a live holder does not exit within the
// takeover window, when the holder cannot be signalled or its lockfile
// removed, when the flock is held elsewhere, or when the payload cannot be
// written.
func Acquire(explicitPath, dataDir string) (*Guard, error) {
	path := explicitPath
	if path == "" {
		path = filepath.Join(dataDir, lockfileName)
	}

	if err := tryTakeover(path); err != nil {
		return nil, err
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire flock on %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lockfile %s is held by another process", path)
	}

	instanceID := idgen.NewInstanceID()
	if err := writePayload(path, payload{PID: os.Getpid(), InstanceID: instanceID, Timestamp: time.Now()}); err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	zap.L().Info("singleton lock acquired", zap.String("path", path), zap.String("instanceId", instanceID))
	return &Guard{path: path, instanceID: instanceID, flock: fl}, nil
}

// tryTakeover inspects an existing lockfile, if any. A dead holder's stale
// file is removed immediately. A live holder is sent SIGTERM and polled for
// up to takeoverPollWindow; if it does not exit, startup aborts.
func tryTakeover(path string) error {
	existing, err := readPayload(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		zap.L().Warn("ignoring unreadable lockfile", zap.String("path", path), zap.Error(err))
		return os.Remove(path)
	}

	if !pidLive(existing.PID) {
		zap.L().Info("removing stale lockfile", zap.String("path", path), zap.Int("pid", existing.PID))
		return os.Remove(path)
	}

	zap.L().Info("requesting graceful takeover", zap.Int("pid", existing.PID))
	if err := syscall.Kill(existing.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal previous holder pid %d: %w", existing.PID, err)
	}

	deadline := time.Now().Add(takeoverPollWindow)
	for time.Now().Before(deadline) {
		if !pidLive(existing.PID) {
			return os.Remove(path)
		}
		time.Sleep(takeoverPollEvery)
	}
	return fmt.Errorf("previous holder pid %d did not exit within %s", existing.PID, takeoverPollWindow)
}

// pidLive reports whether pid refers to a running process, via the
// zero-signal probe (signal 0 performs existence/permission checks only).
func pidLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, syscall.ESRCH)
}

func readPayload(path string) (payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return payload{}, err
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return payload{}, fmt.Errorf("parse lockfile %s: %w", path, err)
	}
	return p, nil
}

func writePayload(path string, p payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode lockfile payload: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create lockfile directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write lockfile %s: %w", path, err)
	}
	return nil
}

// Release removes the lockfile iff its instanceId still matches ours (it may
// have already been taken over by a successor) and releases the flock.
func (g *Guard) Release() {
	if existing, err := readPayload(g.path); err == nil && existing.InstanceID == g.instanceID {
		_ = os.Remove(g.path)
	}
	_ = g.flock.Unlock()
}
