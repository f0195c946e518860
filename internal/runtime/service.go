package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/cosmic-horizons/eventbus/internal/runtime/config"
	"github.com/cosmic-horizons/eventbus/internal/runtime/connection"
	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	"github.com/cosmic-horizons/eventbus/internal/runtime/schema"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

const metricsShutdownTimeout = 5 * time.Second

// BusDependencies holds the optional collaborators of a Bus. Leave fields nil
// for the defaults.
type BusDependencies struct {
	// Registry builds transports; the default registry when nil.
	Registry *transport.Registry
	// Validator checks job payloads; schema.Default() when nil.
	Validator Validator
	// Registerer and Gatherer back the metrics; the Prometheus defaults when nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Hooks run around every handler call of both consumers.
	Hooks DeliveryHooks
	// Middleware wraps every handler of both consumers, inside the
	// correlation id and logging middleware the Bus installs.
	Middleware []Middleware
	// ErrorClassifier buckets handler errors in the consumer stats.
	ErrorClassifier ErrorClassifier
}

// Bus wires the broker, durable log and optional broadcast connections with
// the publishers, consumers, dead-letter router, job emitter and event log
// built on them.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	Broker    *connection.Manager
	Log       *connection.Manager // nil when the log is disabled
	Broadcast *connection.Manager // nil when broadcasting is disabled

	Publisher   *Publisher
	Consumer    *Consumer
	DeadLetters *DeadLetterRouter
	Emitter     *JobEventEmitter

	LogPublisher *Publisher
	LogConsumer  *Consumer
	EventLog     *EventLog

	BroadcastPublisher *Publisher

	Metrics    *Metrics
	DLQMetrics *DLQMetrics
	Stats      *ConsumerStats

	gatherer prometheus.Gatherer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	server  *http.Server
	started bool
}

// NewBus validates conf and builds every component. Nothing connects until
// Start.
func NewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) (*Bus, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log = loggingpkg.OrNop(log)
	log.Info("Creating event bus", loggingpkg.LogFields{"config": conf.String()})

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	validator := deps.Validator
	if validator == nil {
		validator = schema.Default()
	}

	b := &Bus{
		Conf:       conf,
		Logger:     log,
		Metrics:    NewMetrics(registerer, conf.Metrics.Namespace),
		DLQMetrics: NewDLQMetrics(registerer, conf.Metrics.Namespace),
		Stats:      NewConsumerStats(deps.ErrorClassifier),
		gatherer:   gatherer,
	}
	if err := b.Metrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := b.DLQMetrics.Register(); err != nil {
		return nil, fmt.Errorf("register dlq metrics: %w", err)
	}

	managerOpts := func(topo topology.Topology) []connection.Option {
		opts := []connection.Option{
			connection.WithLogger(log),
			connection.WithObserver(b.Metrics),
			connection.WithTopology(topo),
		}
		if deps.Registry != nil {
			opts = append(opts, connection.WithRegistry(deps.Registry))
		}
		return opts
	}

	consumerOpts := []ConsumerOption{
		WithConsumerLogger(log),
		WithConsumerMetrics(b.Metrics),
		WithDeliveryHooks(b.Stats.Hooks().Merge(deps.Hooks)),
		WithMiddleware(CorrelationIDMiddleware(), LogMessagesMiddleware(log)),
		WithMiddleware(deps.Middleware...),
	}

	var err error
	brokerTopo := topology.BrokerTopology(conf.Broker.DurableExchanges, conf.Broker.DurableQueues)
	if b.Broker, err = connection.NewManager(conf.BrokerTransport(), managerOpts(brokerTopo)...); err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	b.Publisher = NewPublisher(b.Broker, WithPublisherLogger(log), WithPublisherMetrics(b.Metrics))
	b.Consumer = NewConsumer(b.Broker, consumerOpts...)
	b.DeadLetters = NewDeadLetterRouter(b.Publisher,
		WithDeadLetterConsumer(b.Consumer),
		WithDeadLetterLogger(log),
		WithDeadLetterMetrics(b.DLQMetrics),
	)

	emitterOpts := []EmitterOption{WithEmitterLogger(log)}
	if conf.Log.Enabled {
		if b.Log, err = connection.NewManager(conf.LogTransport(), managerOpts(topology.LogTopology())...); err != nil {
			return nil, fmt.Errorf("log: %w", err)
		}
		b.LogPublisher = NewPublisher(b.Log, WithPublisherLogger(log), WithPublisherMetrics(b.Metrics))
		b.LogConsumer = NewConsumer(b.Log, consumerOpts...)
		b.EventLog = NewEventLog(b.LogPublisher)
		emitterOpts = append(emitterOpts, WithEventLogMirror(b.EventLog))
	}
	b.Emitter = NewJobEventEmitter(b.Publisher, validator, emitterOpts...)

	if broadcastCfg, ok := conf.BroadcastTransport(); ok {
		if b.Broadcast, err = connection.NewManager(broadcastCfg, managerOpts(topology.Topology{})...); err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		b.BroadcastPublisher = NewPublisher(b.Broadcast, WithPublisherLogger(log), WithPublisherMetrics(b.Metrics))
	}

	return b, nil
}

func (b *Bus) managers() []*connection.Manager {
	out := []*connection.Manager{b.Broker}
	if b.Log != nil {
		out = append(out, b.Log)
	}
	if b.Broadcast != nil {
		out = append(out, b.Broadcast)
	}
	return out
}

// Start connects every configured transport, declaring its topology, then
// supervises the connections until Close or ctx is done. When any connect
// fails the connections already made are closed and the error is returned.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	managers := b.managers()
	for i, m := range managers {
		if err := m.Connect(ctx); err != nil {
			for _, prev := range managers[:i] {
				_ = prev.Disconnect()
			}
			return fmt.Errorf("connect %s: %w", m.State().Transport, err)
		}
	}

	superviseCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	for _, m := range managers {
		b.wg.Add(1)
		go func(m *connection.Manager) {
			defer b.wg.Done()
			_ = m.Supervise(superviseCtx)
		}(m)
	}

	if b.Conf.Metrics.Enabled && b.Conf.Metrics.Address != "" {
		b.startMetricsServer(b.Conf.Metrics.Address)
	}

	b.started = true
	b.Logger.Info("Event bus started", loggingpkg.LogFields{"transports": len(managers)})
	return nil
}

func (b *Bus) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.MetricsHandler())
	mux.Handle(StatsPath, b.StatsHandler())
	b.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	b.Logger.Info("Starting metrics server", loggingpkg.LogFields{"address": addr})
	b.wg.Add(1)
	go func(server *http.Server) {
		defer b.wg.Done()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.Logger.Error("Metrics server failed", err, loggingpkg.LogFields{"address": addr})
		}
	}(b.server)
}

// Close stops supervision, cancels every consumer and disconnects every
// transport. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	var errs []error
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		errs = append(errs, b.server.Shutdown(ctx))
		cancel()
		b.server = nil
	}
	b.wg.Wait()

	errs = append(errs, b.Consumer.Close())
	if b.LogConsumer != nil {
		errs = append(errs, b.LogConsumer.Close())
	}
	for _, m := range b.managers() {
		errs = append(errs, m.Disconnect())
	}
	b.started = false
	return errors.Join(errs...)
}

// Healthy reports whether every configured connection is up.
func (b *Bus) Healthy() bool {
	for _, m := range b.managers() {
		if !m.Healthy() {
			return false
		}
	}
	return true
}

// BroadcastEvent publishes env with a null key to the broadcast exchange,
// over the broadcast transport when configured and the broker otherwise.
func (b *Bus) BroadcastEvent(ctx context.Context, env envelope.Envelope) (bool, error) {
	pub := b.Publisher
	if b.BroadcastPublisher != nil {
		pub = b.BroadcastPublisher
	}
	return pub.Publish(ctx, env, PublishOptions{Destination: topology.EventsFanout, Persistent: Persistent(false)})
}

// RetryPolicy returns middleware that requeues failed broker deliveries until
// cfg.MaxRetries and then routes them to the dead-letter exchange.
func (b *Bus) RetryPolicy(cfg RetryConfig) Middleware {
	return RetryOrDeadLetter(b.Consumer, b.DeadLetters, cfg)
}

// StatsHandler serves the consumer statistics as JSON.
func (b *Bus) StatsHandler() http.Handler {
	return StatsHandler(b.Stats, configpkg.SplitURLs(b.Conf.Metrics.CORSOrigins), b.Logger)
}

// MetricsHandler serves the bus metrics in the Prometheus exposition format.
func (b *Bus) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{})
}
