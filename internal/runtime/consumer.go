package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cosmic-horizons/eventbus/internal/runtime/connection"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	idspkg "github.com/cosmic-horizons/eventbus/internal/runtime/ids"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/transport"
)

// Consumer group states reported for locally synthesised group info.
const (
	GroupStateStable = "stable"
	GroupStateEmpty  = "empty"
)

// Handler processes one delivery. Settlement stays with the handler: it calls
// Acknowledge, Nack, Retry or routes the delivery to the DLQ. A returned error
// is logged and counted but does not settle the delivery.
type Handler func(ctx context.Context, d *transport.Delivery) error

// ConsumeOptions selects what to consume and how.
type ConsumeOptions struct {
	// Source is the queue or topic. Required.
	Source string
	// Tag defaults to consumer-<uuid>.
	Tag string
	// AutoAck settles every delivery before the handler sees it.
	AutoAck   bool
	Exclusive bool
	// Prefetch bounds in-flight deliveries and the number of concurrent
	// handler calls. Defaults to the configured prefetch.
	Prefetch int
	// Group is the consumer group on log transports. Defaults to the
	// configured group.
	Group string
	// SchemaVersions lists the envelope schema versions ConsumeEnvelopes and
	// ConsumeEvents accept. Others are unprocessable. Empty accepts any.
	SchemaVersions []int
}

type subscription struct {
	tag    string
	source string
	group  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Consumer registers subscriptions on a Manager's connection and dispatches
// deliveries to handlers.
type Consumer struct {
	manager *connection.Manager
	logger  loggingpkg.ServiceLogger
	metrics *Metrics
	hooks   DeliveryHooks
	retries *retryLedger
	chain   []Middleware

	mu   sync.Mutex
	subs map[string]*subscription
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(log loggingpkg.ServiceLogger) ConsumerOption {
	return func(c *Consumer) { c.logger = loggingpkg.OrNop(log) }
}

// WithConsumerMetrics records delivery outcomes on m.
func WithConsumerMetrics(m *Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// WithDeliveryHooks installs hooks around every handler call.
func WithDeliveryHooks(hooks DeliveryHooks) ConsumerOption {
	return func(c *Consumer) { c.hooks = c.hooks.Merge(hooks) }
}

// WithMiddleware wraps every handler passed to Consume with mws, the first
// outermost.
func WithMiddleware(mws ...Middleware) ConsumerOption {
	return func(c *Consumer) { c.chain = append(c.chain, mws...) }
}

// WithRetryLedger bounds the in-process retry counts: entries expire after
// ttl and at most limit messages are tracked. Zero values keep the defaults.
func WithRetryLedger(ttl time.Duration, limit int) ConsumerOption {
	return func(c *Consumer) { c.retries = newRetryLedger(ttl, limit) }
}

// NewConsumer creates a consumer over manager.
func NewConsumer(manager *connection.Manager, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		manager: manager,
		logger:  loggingpkg.NopLogger(),
		retries: newRetryLedger(0, 0),
		subs:    make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume subscribes handler to opts.Source and returns the effective
// consumer tag. Deliveries are dispatched asynchronously on up to prefetch
// goroutines until the subscription is cancelled, ctx is done or the manager
// disconnects.
func (c *Consumer) Consume(ctx context.Context, handler Handler, opts ConsumeOptions) (string, error) {
	if handler == nil {
		return "", errspkg.ErrHandlerRequired
	}
	if opts.Source == "" {
		return "", errspkg.ErrSourceRequired
	}
	handler = Chain(handler, c.chain...)
	conn, err := c.manager.Conn()
	if err != nil {
		return "", err
	}

	if opts.Tag == "" {
		opts.Tag = idspkg.NewConsumerTag()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = c.manager.Prefetch()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.Group == "" {
		opts.Group = c.manager.ConsumerGroup()
	}

	subCtx, cancel := context.WithCancel(ctx)
	deliveries, err := conn.Subscribe(subCtx, transport.Subscription{
		Source:    opts.Source,
		Tag:       opts.Tag,
		AutoAck:   opts.AutoAck,
		Exclusive: opts.Exclusive,
		Prefetch:  opts.Prefetch,
		Group:     opts.Group,
	})
	if err != nil {
		cancel()
		return "", fmt.Errorf("subscribe %s: %w", opts.Source, err)
	}

	sub := &subscription{
		tag:    opts.Tag,
		source: opts.Source,
		group:  opts.Group,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	if prev, ok := c.subs[opts.Tag]; ok {
		prev.cancel()
	}
	c.subs[opts.Tag] = sub
	c.mu.Unlock()
	c.manager.Register(opts.Tag, cancel)

	var wg sync.WaitGroup
	for i := 0; i < opts.Prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.dispatch(subCtx, handler, d)
			}
		}()
	}
	go func() {
		wg.Wait()
		cancel()
		c.mu.Lock()
		if c.subs[sub.tag] == sub {
			delete(c.subs, sub.tag)
		}
		c.mu.Unlock()
		c.logger.Info("Consumer stopped", loggingpkg.LogFields{"consumer_tag": sub.tag, "source": sub.source})
		close(sub.done)
	}()

	c.logger.Info("Consumer started", loggingpkg.LogFields{
		"consumer_tag": opts.Tag,
		"source":       opts.Source,
		"prefetch":     opts.Prefetch,
		"auto_ack":     opts.AutoAck,
	})
	return opts.Tag, nil
}

func (c *Consumer) dispatch(ctx context.Context, handler Handler, d *transport.Delivery) {
	if n, ok := c.retries.get(d.MessageID()); ok && n > d.RetryCount {
		setRetryCount(d, n)
	}

	ctx, span := startConsumeSpan(ctx, d)
	d.Message.SetContext(ctx)

	info := DeliveryContext{
		Source:      d.Source,
		ConsumerTag: d.ConsumerTag,
		MessageID:   d.MessageID(),
		EventType:   d.Message.Metadata.Get(metadatapkg.EventType),
		Metadata:    d.Message.Metadata,
		Context:     ctx,
		StartedAt:   time.Now(),
		RetryCount:  d.RetryCount,
	}
	c.hooks.start(info)

	outcome, err := c.invoke(ctx, handler, d)
	info.Duration = time.Since(info.StartedAt)
	c.hooks.finish(info, err)
	endSpan(span, err)
	c.metrics.ObserveDelivery(d.Source, outcome)

	if err != nil {
		c.logger.Error("Handler failed", err, loggingpkg.LogFields{
			"consumer_tag": d.ConsumerTag,
			"source":       d.Source,
			"message_id":   info.MessageID,
			"retry_count":  d.RetryCount,
			"outcome":      outcome,
		})
	}
}

// HandlerPanicError reports a recovered handler panic.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

func (c *Consumer) invoke(ctx context.Context, handler Handler, d *transport.Delivery) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			outcome = OutcomePanic
			err = &HandlerPanicError{Value: r, Stack: stack}
			c.logger.Debug("Handler panic stack", loggingpkg.LogFields{"stack": string(stack)})
		}
	}()
	if err := handler(ctx, d); err != nil {
		return OutcomeError, err
	}
	return OutcomeHandled, nil
}

// Acknowledge marks d processed and removes it from the queue.
func (c *Consumer) Acknowledge(d *transport.Delivery) error {
	if err := d.Ack(); err != nil {
		return err
	}
	c.retries.clear(d.MessageID())
	c.metrics.ObserveDelivery(d.Source, OutcomeAcked)
	return nil
}

// Nack rejects d. With requeue the broker redelivers it; without, it is
// dropped or dead-lettered by the broker. The caller owns the retry count,
// see Retry.
func (c *Consumer) Nack(d *transport.Delivery, requeue bool) error {
	if err := d.Nack(requeue); err != nil {
		return err
	}
	outcome := OutcomeRequeued
	if !requeue {
		c.retries.clear(d.MessageID())
		outcome = OutcomeNacked
	}
	c.metrics.ObserveDelivery(d.Source, outcome)
	return nil
}

// Retry increments the retry count of d and nacks it with requeue. The
// redelivered copy carries the new count. It returns the new count.
func (c *Consumer) Retry(d *transport.Delivery) (int, error) {
	prev, prevRedelivered := d.RetryCount, d.Redelivered
	n := prev + 1
	c.retries.set(d.MessageID(), n)
	setRetryCount(d, n)
	if err := c.Nack(d, true); err != nil {
		c.retries.clear(d.MessageID())
		if prev > 0 {
			c.retries.set(d.MessageID(), prev)
		}
		setRetryCount(d, prev)
		d.Redelivered = prevRedelivered
		return prev, err
	}
	return n, nil
}

// Cancel stops the subscription registered under tag and waits for its
// in-flight handlers to return.
func (c *Consumer) Cancel(tag string) error {
	c.mu.Lock()
	sub, ok := c.subs[tag]
	c.mu.Unlock()
	if !ok {
		return errspkg.ErrConsumerNotFound
	}

	_ = c.manager.Unregister(tag)
	sub.cancel()
	<-sub.done
	return nil
}

// Close cancels every subscription and waits for them to stop.
func (c *Consumer) Close() error {
	for _, tag := range c.Tags() {
		if err := c.Cancel(tag); err != nil && !errors.Is(err, errspkg.ErrConsumerNotFound) {
			return err
		}
	}
	return nil
}

// Tags lists the active consumer tags, sorted.
func (c *Consumer) Tags() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags := make([]string, 0, len(c.subs))
	for tag := range c.subs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// GroupInfo reports consumer group metadata for operational tooling. Log
// transports describe the group on the broker; other transports report the
// local subscriptions in the group.
func (c *Consumer) GroupInfo(ctx context.Context, groupID string) (transport.GroupInfo, error) {
	conn, err := c.manager.Conn()
	if err != nil {
		return transport.GroupInfo{}, err
	}
	if describer, ok := conn.(transport.GroupDescriber); ok {
		return describer.DescribeGroup(ctx, groupID)
	}

	info := transport.GroupInfo{GroupID: groupID, State: GroupStateEmpty}
	c.mu.Lock()
	for _, sub := range c.subs {
		if sub.group == groupID {
			info.Members = append(info.Members, transport.GroupMember{MemberID: sub.tag, ClientID: sub.source})
		}
	}
	c.mu.Unlock()

	sort.Slice(info.Members, func(i, j int) bool { return info.Members[i].MemberID < info.Members[j].MemberID })
	if len(info.Members) > 0 {
		info.State = GroupStateStable
	}
	return info, nil
}

func setRetryCount(d *transport.Delivery, n int) {
	d.RetryCount = n
	d.Redelivered = true
	d.Message.Metadata.Set(metadatapkg.RetryCount, strconv.Itoa(n))
}

// Retry ledger bounds. Entries for messages redelivered to another instance
// are never settled here and expire after DefaultRetryLedgerTTL.
const (
	DefaultRetryLedgerTTL = 24 * time.Hour
	DefaultRetryLedgerMax = 10000
)

// retryLedger remembers retry counts across redeliveries, since the broker
// redelivers a requeued message with its original headers. Entries expire
// after ttl and the oldest entry is evicted once limit is reached.
type retryLedger struct {
	mu     sync.Mutex
	counts map[string]ledgerEntry
	ttl    time.Duration
	limit  int
	now    func() time.Time
}

type ledgerEntry struct {
	count   int
	updated time.Time
}

func newRetryLedger(ttl time.Duration, limit int) *retryLedger {
	if ttl <= 0 {
		ttl = DefaultRetryLedgerTTL
	}
	if limit <= 0 {
		limit = DefaultRetryLedgerMax
	}
	return &retryLedger{
		counts: make(map[string]ledgerEntry),
		ttl:    ttl,
		limit:  limit,
		now:    time.Now,
	}
}

func (l *retryLedger) get(id string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.counts[id]
	if !ok {
		return 0, false
	}
	if l.now().Sub(e.updated) > l.ttl {
		delete(l.counts, id)
		return 0, false
	}
	return e.count, true
}

func (l *retryLedger) set(id string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if _, ok := l.counts[id]; !ok && len(l.counts) >= l.limit {
		l.prune(now)
	}
	l.counts[id] = ledgerEntry{count: n, updated: now}
}

// prune drops expired entries and, if the ledger is still full, the oldest one.
func (l *retryLedger) prune(now time.Time) {
	var oldestID string
	var oldest time.Time
	for id, e := range l.counts {
		if now.Sub(e.updated) > l.ttl {
			delete(l.counts, id)
			continue
		}
		if oldestID == "" || e.updated.Before(oldest) {
			oldestID, oldest = id, e.updated
		}
	}
	if len(l.counts) >= l.limit {
		delete(l.counts, oldestID)
	}
}

func (l *retryLedger) clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, id)
}

func (l *retryLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
