package connection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	"github.com/cosmic-horizons/eventbus/transport"
)

// Supervise checks the connection every heartbeat interval until ctx is done.
// A lost or unhealthy connection is torn down, cancelling its consumers, and
// re-established with exponential backoff starting at the reconnect interval.
func (m *Manager) Supervise(ctx context.Context) error {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.Healthy() {
				continue
			}
			if m.IsConnected() {
				m.logger.Info("Broker connection unhealthy, reconnecting", nil)
				_ = m.Disconnect()
			}
			if err := m.reconnect(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Broker reconnect gave up", err, nil)
			}
		}
	}
}

// Healthy reports whether the manager is connected and the transport, when
// it can tell, still has a live link.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	conn, connected := m.conn, m.connected
	m.mu.RUnlock()

	if !connected || conn == nil {
		return false
	}
	if checker, ok := conn.(transport.HealthChecker); ok {
		return checker.Healthy()
	}
	return true
}

func (m *Manager) reconnect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.reconnectInterval
	policy.MaxInterval = 10 * m.reconnectInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, m.Connect(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Error("Broker reconnect failed", err, logging.LogFields{"retry_in": next.String()})
		}),
	)
	return err
}
