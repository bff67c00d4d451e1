package transfer

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"

	"github.com/opsctl/sshbroker/internal/brokererr"
	"github.com/opsctl/sshbroker/internal/eventbus"
	"github.com/opsctl/sshbroker/internal/idgen"
	"github.com/opsctl/sshbroker/internal/registry"
)

// Manager is the SFTP Transfer Manager.
type Manager struct {
	registry *registry.Registry
	events   *eventbus.Bus[ProgressEvent]

	mu        sync.Mutex
	transfers map[string]*Transfer

	retention time.Duration
}

func New(reg *registry.Registry, retention time.Duration) *Manager {
	return &Manager{
		registry:  reg,
		events:    eventbus.New[ProgressEvent](),
		transfers: make(map[string]*Transfer),
		retention: retention,
	}
}

func (m *Manager) Events() (<-chan ProgressEvent, func()) { return m.events.Subscribe() }

func (m *Manager) Get(id string) (*Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	return t, ok
}

func (m *Manager) List() []*Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}
	return out
}

func (m *Manager) newTransfer(connID string, dir Direction, local, remote string) *Transfer {
	t := &Transfer{
		ID: idgen.NewTransferID(), ConnectionID: connID, Direction: dir,
		LocalPath: local, RemotePath: remote, Status: StatusPending, StartTime: time.Now(),
	}
	m.mu.Lock()
	m.transfers[t.ID] = t
	m.mu.Unlock()
	return t
}

func (m *Manager) sftpClient(connID string) (*sftp.Client, error) {
	conn, ok := m.registry.Get(connID)
	if !ok || conn.State() != registry.StateConnected {
		return nil, brokererr.New(brokererr.KindNotConnected, "connection "+connID+" is not connected")
	}
	client := conn.Client()
	if client == nil {
		return nil, brokererr.New(brokererr.KindNotConnected, "connection "+connID+" has no live transport")
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindTransferFailed, "open sftp channel", err)
	}
	return sc, nil
}

// Upload streams local to remote over a new SFTP channel.
func (m *Manager) Upload(ctx context.Context, connID, local, remote string) (*Transfer, error) {
	t := m.newTransfer(connID, DirectionUpload, local, remote)

	sc, err := m.sftpClient(connID)
	if err != nil {
		m.fail(t, err)
		return t, err
	}
	defer sc.Close()

	localFile, err := os.Open(local)
	if err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "open local file", err)
		m.fail(t, failErr)
		return t, failErr
	}
	defer localFile.Close()

	info, err := localFile.Stat()
	if err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "stat local file", err)
		m.fail(t, failErr)
		return t, failErr
	}
	t.Size = info.Size()
	t.Status = StatusInProgress

	remoteFile, err := sc.Create(remote)
	if err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "create remote file", err)
		m.fail(t, failErr)
		return t, failErr
	}
	defer remoteFile.Close()

	counter := m.countingWriter(t, remoteFile)
	if _, err := io.Copy(counter, localFile); err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "stream upload", err)
		m.fail(t, failErr)
		return t, failErr
	}

	m.complete(t)
	return t, nil
}

// Download streams remote to local over a new SFTP channel.
func (m *Manager) Download(ctx context.Context, connID, remote, local string) (*Transfer, error) {
	t := m.newTransfer(connID, DirectionDownload, local, remote)

	sc, err := m.sftpClient(connID)
	if err != nil {
		m.fail(t, err)
		return t, err
	}
	defer sc.Close()

	remoteFile, err := sc.Open(remote)
	if err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "open remote file", err)
		m.fail(t, failErr)
		return t, failErr
	}
	defer remoteFile.Close()

	info, err := remoteFile.Stat()
	if err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "stat remote file", err)
		m.fail(t, failErr)
		return t, failErr
	}
	t.Size = info.Size()
	t.Status = StatusInProgress

	localFile, err := os.Create(local)
	if err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "create local file", err)
		m.fail(t, failErr)
		return t, failErr
	}
	defer localFile.Close()

	counter := m.countingWriter(t, localFile)
	if _, err := io.Copy(counter, remoteFile); err != nil {
		failErr := brokererr.Wrap(brokererr.KindTransferFailed, "stream download", err)
		m.fail(t, failErr)
		return t, failErr
	}

	m.complete(t)
	return t, nil
}

// BatchItem is one member of a batch transfer request.
type BatchItem struct {
	Local  string
	Remote string
}

// Batch iterates items sequentially, returning every created Transfer id.
func (m *Manager) Batch(ctx context.Context, connID string, items []BatchItem, direction Direction) BatchResult {
	result := BatchResult{}
	for _, item := range items {
		var (
			t   *Transfer
			err error
		)
		if direction == DirectionUpload {
			t, err = m.Upload(ctx, connID, item.Local, item.Remote)
		} else {
			t, err = m.Download(ctx, connID, item.Remote, item.Local)
		}
		result.TransferIDs = append(result.TransferIDs, t.ID)
		if err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	return result
}

// countingWriter wraps w so every write updates t.BytesTransferred and
// publishes a ProgressEvent whenever the rounded percentage crosses a 5%
// boundary.
func (m *Manager) countingWriter(t *Transfer, w io.Writer) io.Writer {
	lastBucket := -1
	return &countFunc{w: w, onWrite: func(n int) {
		t.BytesTransferred += int64(n)
		pct := t.progress()
		bucket := pct / 5
		if bucket != lastBucket {
			lastBucket = bucket
			m.events.Publish(ProgressEvent{TransferID: t.ID, Progress: pct, Status: t.Status})
		}
	}}
}

type countFunc struct {
	w       io.Writer
	onWrite func(n int)
}

func (c *countFunc) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.onWrite(n)
	}
	return n, err
}

func (m *Manager) complete(t *Transfer) {
	t.Status = StatusCompleted
	t.EndTime = time.Now()
	m.events.Publish(ProgressEvent{TransferID: t.ID, Progress: 100, Status: t.Status})
}

func (m *Manager) fail(t *Transfer, err error) {
	t.Status = StatusFailed
	t.EndTime = time.Now()
	t.Error = err.Error()
	m.events.Publish(ProgressEvent{TransferID: t.ID, Progress: t.progress(), Status: t.Status})
}

// SweepTerminal deletes Transfer records whose status is terminal and whose
// EndTime is older than the configured retention.
func (m *Manager) SweepTerminal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.retention)
	for id, t := range m.transfers {
		if (t.Status == StatusCompleted || t.Status == StatusFailed) && t.EndTime.Before(cutoff) {
			delete(m.transfers, id)
		}
	}
}

// StartSweeper runs SweepTerminal on a ticker until stop is closed.
func (m *Manager) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.SweepTerminal()
			}
		}
	}()
}
