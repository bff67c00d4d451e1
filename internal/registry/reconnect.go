package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// reconnectLoop drives a connection through state=reconnecting, retrying the
// dial up to Reconnect.MaxTries spaced by Reconnect.Delay. gen pins this loop
// to the generation it was started for; any intervening Disconnect/Delete/
// successful reconnect bumps reconnectGen and the loop exits without racing
// a newer attempt.
func (r *Registry) reconnectLoop(conn *Connection, gen int) {
	policy := conn.Config.Reconnect
	delay := policy.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for attempt := 1; attempt <= policy.MaxTries; attempt++ {
		conn.mu.Lock()
		stale := conn.reconnectGen != gen
		conn.mu.Unlock()
		if stale {
			return
		}

		conn.mu.Lock()
		conn.state = StateReconnecting
		conn.mu.Unlock()

		time.Sleep(delay)

		conn.mu.Lock()
		stale = conn.reconnectGen != gen
		conn.mu.Unlock()
		if stale {
			return
		}

		zap.L().Info("reconnect attempt", zap.String("connectionId", conn.ID), zap.Int("attempt", attempt))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := r.dial(ctx, conn)
		cancel()
		if err == nil {
			return
		}
	}

	conn.mu.Lock()
	if conn.reconnectGen == gen {
		conn.state = StateError
		conn.lastError = "reconnect attempts exhausted"
	}
	conn.mu.Unlock()
	zap.L().Warn("reconnect attempts exhausted", zap.String("connectionId", conn.ID))
}
