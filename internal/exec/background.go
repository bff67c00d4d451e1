package exec

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsctl/sshbroker/internal/idgen"
	"github.com/opsctl/sshbroker/internal/registry"
)

// backgroundTask is a periodic command bound to a connection. At most one
// exists per connection; creating a second replaces the first.
type backgroundTask struct {
	id           string
	connectionID string
	command      string
	intervalMs   int
	cwd          string
	lastCheck    time.Time
	lastError    string
	stop         chan struct{}
}

// BackgroundExecute enforces one task per connection, replacing any prior
// task, and starts the new one running immediately and then on a ticker.
func (e *Executor) BackgroundExecute(connID, command string, intervalMs int, cwd string) string {
	e.tasksMu.Lock()
	if prior, ok := e.tasks[connID]; ok {
		close(prior.stop)
	}
	task := &backgroundTask{
		id:           idgen.NewTaskID(),
		connectionID: connID,
		command:      command,
		intervalMs:   intervalMs,
		cwd:          cwd,
		stop:         make(chan struct{}),
	}
	e.tasks[connID] = task
	e.tasksMu.Unlock()

	go e.runBackgroundTask(task)
	return task.id
}

func (e *Executor) runBackgroundTask(task *backgroundTask) {
	run := func() {
		conn, ok := e.registry.Get(task.connectionID)
		if !ok || conn.State() != registry.StateConnected {
			return
		}
		task.lastCheck = time.Now()
		_, err := e.ExecuteCommand(context.Background(), task.connectionID, task.command, Options{Cwd: task.cwd})
		if err != nil {
			task.lastError = err.Error()
			zap.L().Warn("background task invocation failed", zap.String("connectionId", task.connectionID), zap.Error(err))
		}
	}

	run()

	interval := time.Duration(task.intervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-task.stop:
			return
		case <-ticker.C:
			conn, ok := e.registry.Get(task.connectionID)
			if !ok || conn.State() != registry.StateConnected {
				e.StopBackground(task.connectionID)
				return
			}
			run()
		}
	}
}

// StopBackground is idempotent.
func (e *Executor) StopBackground(connID string) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	task, ok := e.tasks[connID]
	if !ok {
		return
	}
	delete(e.tasks, connID)
	select {
	case <-task.stop:
		// already closed
	default:
		close(task.stop)
	}
}

// BackgroundTaskInfo is the read-only view of a background task.
type BackgroundTaskInfo struct {
	ID           string
	ConnectionID string
	Command      string
	IntervalMs   int
	LastCheck    time.Time
	LastError    string
}

func (e *Executor) ListBackgroundTasks() []BackgroundTaskInfo {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	out := make([]BackgroundTaskInfo, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, BackgroundTaskInfo{
			ID: t.id, ConnectionID: t.connectionID, Command: t.command,
			IntervalMs: t.intervalMs, LastCheck: t.lastCheck, LastError: t.lastError,
		})
	}
	return out
}

// StopAllBackgroundTasks stops every task across every connection.
func (e *Executor) StopAllBackgroundTasks() int {
	e.tasksMu.Lock()
	ids := make([]string, 0, len(e.tasks))
	for connID := range e.tasks {
		ids = append(ids, connID)
	}
	e.tasksMu.Unlock()

	for _, connID := range ids {
		e.StopBackground(connID)
	}
	return len(ids)
}
