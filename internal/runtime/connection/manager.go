// Package connection owns the lifecycle of one broker connection: idempotent
// connect with URL failover, topology declaration before the connection is
// reported ready, the consumer registry, and supervised reconnects.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cosmic-horizons/eventbus/internal/runtime/config"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

// Observer receives connection lifecycle events, typically for metrics.
type Observer interface {
	ConnectAttempt(transportName string, err error)
	ConnectionUp(transportName string, up bool)
}

// State is a read-only snapshot of the connection.
type State struct {
	Transport         string
	URLs              []string
	ReconnectInterval time.Duration
	Heartbeat         time.Duration
	Connected         bool
	CreatedAt         time.Time
	ActiveURL         string
}

// Metrics summarises the connection for health endpoints.
type Metrics struct {
	Connected     bool
	ConsumerCount int
	Uptime        time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry builds connections from reg instead of the default registry.
func WithRegistry(reg *transport.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithLogger sets the logger.
func WithLogger(log logging.ServiceLogger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(log) }
}

// WithTopology declares topo on every successful connect.
func WithTopology(topo topology.Topology) Option {
	return func(m *Manager) { m.topology = topo }
}

// WithObserver reports connect attempts and state changes to obs.
func WithObserver(obs Observer) Option {
	return func(m *Manager) { m.observer = obs }
}

// Manager owns one transport connection. All state is guarded by mu; only the
// manager mutates the consumer registry.
type Manager struct {
	cfg               transport.Config
	registry          *transport.Registry
	logger            logging.ServiceLogger
	topology          topology.Topology
	observer          Observer
	reconnectInterval time.Duration
	heartbeat         time.Duration
	now               func() time.Time

	connectGroup singleflight.Group

	mu         sync.RWMutex
	conn       transport.Conn
	connected  bool
	createdAt  time.Time
	activeURL  string
	consumers  map[string]context.CancelFunc
	generation uint64
}

// NewManager creates a disconnected manager. Reconnect and heartbeat intervals
// default to 5s and 60s when unset.
func NewManager(cfg transport.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if cfg.GetTransportName() == "" {
		return nil, errspkg.ErrTransportRequired
	}

	m := &Manager{
		cfg:               cfg,
		registry:          transport.DefaultRegistry,
		logger:            logging.NopLogger(),
		reconnectInterval: cfg.GetReconnectInterval(),
		heartbeat:         cfg.GetHeartbeat(),
		now:               time.Now,
		consumers:         make(map[string]context.CancelFunc),
	}
	if m.reconnectInterval <= 0 {
		m.reconnectInterval = config.DefaultReconnectInterval
	}
	if m.heartbeat <= 0 {
		m.heartbeat = config.DefaultHeartbeat
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logging.LogFields{"transport": cfg.GetTransportName()})
	return m, nil
}

// Connect establishes the connection if it is not already up. Concurrent
// callers share one attempt. URLs are tried in order; the first success
// declares the topology before the manager reports connected. When every URL
// fails the joined errors are returned and the manager stays disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}
	_, err, _ := m.connectGroup.Do("connect", func() (any, error) {
		return nil, m.connect(ctx)
	})
	return err
}

func (m *Manager) connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}

	urls := m.cfg.GetURLs()
	if len(urls) == 0 {
		return errspkg.ErrNoBrokerURLs
	}

	m.mu.RLock()
	gen := m.generation
	m.mu.RUnlock()

	name := m.cfg.GetTransportName()
	var errs []error
	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		log := m.logger.With(logging.LogFields{"url": config.RedactURL(url), "attempt": i + 1})
		conn, err := m.dial(ctx, rotate(urls, i))
		m.observeAttempt(name, err)
		if err != nil {
			log.Error("Broker connection attempt failed", err, nil)
			errs = append(errs, fmt.Errorf("connect %s: %w", config.RedactURL(url), err))
			continue
		}

		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			_ = conn.Close()
			log.Info("Broker connection discarded after disconnect", nil)
			return errspkg.ErrDisconnected
		}
		m.conn = conn
		m.connected = true
		m.createdAt = m.now()
		m.activeURL = url
		m.mu.Unlock()

		m.observeUp(name, true)
		log.Info("Broker connection established", nil)
		return nil
	}

	return errors.Join(errs...)
}

// dial builds one connection and declares the topology on it.
func (m *Manager) dial(ctx context.Context, urls []string) (transport.Conn, error) {
	cfg := attemptConfig{Config: m.cfg, urls: urls}
	if timeout := m.cfg.GetConnectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := m.registry.Build(ctx, cfg, logging.NewWatermillAdapter(m.logger))
	if err != nil {
		return nil, err
	}

	if declarer, ok := conn.(transport.TopologyDeclarer); ok && !m.topology.IsEmpty() {
		if err := declarer.Declare(ctx, m.topology); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declare topology: %w", err)
		}
	}
	return conn, nil
}

// Disconnect cancels every registered consumer, closes the connection and
// clears the state. Safe to call when never connected. A connect still dialing
// when Disconnect runs closes its connection and returns ErrDisconnected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.generation++
	consumers := m.consumers
	m.consumers = make(map[string]context.CancelFunc)
	conn := m.conn
	wasConnected := m.connected
	m.conn = nil
	m.connected = false
	m.createdAt = time.Time{}
	m.activeURL = ""
	m.mu.Unlock()

	for _, cancel := range consumers {
		cancel()
	}
	if conn == nil {
		return nil
	}

	err := conn.Close()
	if wasConnected {
		m.observeUp(m.cfg.GetTransportName(), false)
	}
	if err != nil {
		m.logger.Error("Broker connection close failed", err, nil)
		return err
	}
	m.logger.Info("Broker connection closed", logging.LogFields{"consumers_cancelled": len(consumers)})
	return nil
}

// IsConnected reports whether the connection is up.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Conn returns the live connection or ErrNotConnected.
func (m *Manager) Conn() (transport.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected || m.conn == nil {
		return nil, errspkg.ErrNotConnected
	}
	return m.conn, nil
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Transport:         m.cfg.GetTransportName(),
		URLs:              m.cfg.GetURLs(),
		ReconnectInterval: m.reconnectInterval,
		Heartbeat:         m.heartbeat,
		Connected:         m.connected,
		CreatedAt:         m.createdAt,
		ActiveURL:         m.activeURL,
	}
}

// Capabilities returns the registered capabilities of the transport.
func (m *Manager) Capabilities() transport.Capabilities {
	return m.registry.GetCapabilities(m.cfg.GetTransportName())
}

// Prefetch is the configured default prefetch.
func (m *Manager) Prefetch() int {
	return m.cfg.GetPrefetch()
}

// ConsumerGroup is the configured default consumer group.
func (m *Manager) ConsumerGroup() string {
	return m.cfg.GetConsumerGroup()
}

// Register records a consumer so Disconnect can cancel it.
func (m *Manager) Register(tag string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.consumers[tag]; ok {
		prev()
	}
	m.consumers[tag] = cancel
}

// Unregister cancels and forgets a consumer.
func (m *Manager) Unregister(tag string) error {
	m.mu.Lock()
	cancel, ok := m.consumers[tag]
	delete(m.consumers, tag)
	m.mu.Unlock()

	if !ok {
		return errspkg.ErrConsumerNotFound
	}
	cancel()
	return nil
}

// HasConsumer reports whether tag is registered.
func (m *Manager) HasConsumer(tag string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.consumers[tag]
	return ok
}

// ConsumerCount is the number of registered consumers.
func (m *Manager) ConsumerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consumers)
}

// Metrics returns connection health figures.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Metrics{Connected: m.connected, ConsumerCount: len(m.consumers)}
	if m.connected {
		out.Uptime = m.now().Sub(m.createdAt)
	}
	return out
}

func (m *Manager) observeAttempt(name string, err error) {
	if m.observer != nil {
		m.observer.ConnectAttempt(name, err)
	}
}

func (m *Manager) observeUp(name string, up bool) {
	if m.observer != nil {
		m.observer.ConnectionUp(name, up)
	}
}

// rotate returns urls starting at index i, wrapping around.
func rotate(urls []string, i int) []string {
	out := make([]string, 0, len(urls))
	out = append(out, urls[i:]...)
	return append(out, urls[:i]...)
}

// attemptConfig presents one failover ordering of the URLs to a builder.
type attemptConfig struct {
	transport.Config
	urls []string
}

func (a attemptConfig) GetURLs() []string {
	return append([]string(nil), a.urls...)
}
