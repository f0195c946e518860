package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

type mockConfig struct {
	urls    []string
	confirm bool
}

func (m *mockConfig) GetTransportName() string            { return TransportName }
func (m *mockConfig) GetURLs() []string                   { return m.urls }
func (m *mockConfig) GetReconnectInterval() time.Duration { return time.Second }
func (m *mockConfig) GetHeartbeat() time.Duration         { return 30 * time.Second }
func (m *mockConfig) GetPrefetch() int                    { return 10 }
func (m *mockConfig) GetConsumerGroup() string            { return "" }
func (m *mockConfig) GetClientID() string                 { return "cosmic-horizons-api" }
func (m *mockConfig) GetConfirmPublishes() bool           { return m.confirm }
func (m *mockConfig) GetConnectTimeout() time.Duration    { return time.Second }

type fakeConfirmation struct {
	acked bool
	err   error
}

func (f fakeConfirmation) WaitContext(context.Context) (bool, error) { return f.acked, f.err }

type binding struct{ queue, key, exchange string }

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     map[string]amqp.Table
	bindings   []binding
	published  []published
	confirmed  bool
	qos        int
	cancelled  []string
	closed     bool
	deliveries chan amqp.Delivery
	confirm    Confirmation
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  map[string]string{},
		queues:     map[string]amqp.Table{},
		deliveries: make(chan amqp.Delivery, 4),
	}
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, binding{name, key, exchange})
	return nil
}

func (f *fakeChannel) Confirm(bool) error {
	f.confirmed = true
	return nil
}

func (f *fakeChannel) Publish(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, published{exchange, key, msg})
	return f.confirm, nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeConnection struct {
	channels []*fakeChannel
	next     int
	closed   bool
	notify   chan *amqp.Error
}

func (f *fakeConnection) Channel() (Channel, error) {
	if f.next >= len(f.channels) {
		return nil, errors.New("no more channels")
	}
	ch := f.channels[f.next]
	f.next++
	return ch, nil
}

func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.notify = receiver
	return receiver
}

func (f *fakeConnection) IsClosed() bool { return f.closed }

func (f *fakeConnection) Close() error {
	f.closed = true
	close(f.notify)
	return nil
}

type fakeAcknowledger struct {
	acked    []uint64
	nacked   []uint64
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _, requeue bool) error {
	f.nacked = append(f.nacked, tag)
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func withFakeDial(t *testing.T, conn *fakeConnection) *[]string {
	t.Helper()
	original := DialFactory
	t.Cleanup(func() { DialFactory = original })

	var dialed []string
	DialFactory = func(url string, cfg amqp.Config) (Connection, error) {
		dialed = append(dialed, url)
		assert.Equal(t, 30*time.Second, cfg.Heartbeat)
		assert.Equal(t, "cosmic-horizons-api", cfg.Properties["connection_name"])
		return conn, nil
	}
	return &dialed
}

func buildConn(t *testing.T, conn *fakeConnection, confirm bool) *Conn {
	t.Helper()
	tr, err := Build(context.Background(), &mockConfig{urls: []string{"amqp://a:5672", "amqp://b:5672"}, confirm: confirm}, watermill.NopLogger{})
	require.NoError(t, err)
	return tr.(*Conn)
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, transport.RabbitMQCapabilities, caps)
	assert.True(t, caps.SupportsConfirms)
}

func TestBuild_DialsFirstURLAndEnablesConfirms(t *testing.T) {
	pubCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{pubCh}}
	dialed := withFakeDial(t, conn)

	c := buildConn(t, conn, true)
	defer c.Close()

	assert.Equal(t, []string{"amqp://a:5672"}, *dialed)
	assert.True(t, pubCh.confirmed)
	assert.True(t, c.Healthy())
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), &mockConfig{}, nil)
	assert.ErrorIs(t, err, errspkg.ErrNoBrokerURLs)

	original := DialFactory
	defer func() { DialFactory = original }()
	DialFactory = func(string, amqp.Config) (Connection, error) {
		return nil, errors.New("connection refused")
	}

	_, err = Build(context.Background(), &mockConfig{urls: []string{"amqp://a:5672"}}, nil)
	assert.EqualError(t, err, "connection refused")
}

func TestDeclare(t *testing.T) {
	topoCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{newFakeChannel(), topoCh}}
	withFakeDial(t, conn)

	c := buildConn(t, conn, false)
	defer c.Close()

	require.NoError(t, c.Declare(context.Background(), topology.BrokerTopology(true, true)))

	assert.Equal(t, map[string]string{
		topology.JobsExchange:       "topic",
		topology.EventsFanout:       "fanout",
		topology.DeadLetterExchange: "topic",
	}, topoCh.exchanges)
	assert.Equal(t, topology.DeadLetterExchange, topoCh.queues[topology.JobsQueue]["x-dead-letter-exchange"])
	assert.Nil(t, topoCh.queues[topology.JobsDLQ])
	assert.Contains(t, topoCh.bindings, binding{topology.JobsQueue, "job.#", topology.JobsExchange})
	assert.Contains(t, topoCh.bindings, binding{topology.JobsDLQ, "#", topology.DeadLetterExchange})
	assert.True(t, topoCh.closed)
}

func TestPublish(t *testing.T) {
	pubCh := newFakeChannel()
	pubCh.confirm = fakeConfirmation{acked: true}
	conn := &fakeConnection{channels: []*fakeChannel{pubCh}}
	withFakeDial(t, conn)

	c := buildConn(t, conn, true)
	defer c.Close()

	msg := message.NewMessage("evt-1", []byte(`{"id":"job-1"}`))
	msg.Metadata.Set(metadata.ContentType, "application/json")
	msg.Metadata.Set(metadata.CorrelationID, "job-1")
	msg.Metadata.Set(metadata.MessageID, "evt-1")
	msg.Metadata.Set(metadata.EventType, "job.submitted")
	msg.Metadata.Set(metadata.Timestamp, "2026-01-02T03:04:05.000Z")

	err := c.Publish(context.Background(), transport.Destination{Name: topology.JobsExchange, Key: "jobs.submitted", Persistent: true}, msg)
	require.NoError(t, err)

	require.Len(t, pubCh.published, 1)
	got := pubCh.published[0]
	assert.Equal(t, topology.JobsExchange, got.exchange)
	assert.Equal(t, "jobs.submitted", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "evt-1", got.msg.MessageId)
	assert.Equal(t, "job-1", got.msg.CorrelationId)
	assert.Equal(t, "job.submitted", got.msg.Type)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got.msg.Timestamp.UTC())
	assert.Equal(t, "job-1", got.msg.Headers[metadata.CorrelationID])
}

func TestPublish_Failures(t *testing.T) {
	tests := []struct {
		name    string
		confirm Confirmation
		pubErr  error
		wantIs  error
		wantMsg string
	}{
		{name: "broker nack", confirm: fakeConfirmation{acked: false}, wantIs: errspkg.ErrPublishNotConfirmed},
		{name: "confirm wait error", confirm: fakeConfirmation{err: context.DeadlineExceeded}, wantIs: context.DeadlineExceeded},
		{name: "channel error", pubErr: amqp.ErrClosed, wantMsg: "publish to jobs.exchange"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pubCh := newFakeChannel()
			pubCh.confirm = tt.confirm
			pubCh.publishErr = tt.pubErr
			conn := &fakeConnection{channels: []*fakeChannel{pubCh}}
			withFakeDial(t, conn)

			c := buildConn(t, conn, true)
			defer c.Close()

			err := c.Publish(context.Background(), transport.Destination{Name: topology.JobsExchange}, message.NewMessage("m", nil))
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}

	pubCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{pubCh}}
	withFakeDial(t, conn)
	c := buildConn(t, conn, false)
	defer c.Close()
	assert.ErrorIs(t, c.Publish(context.Background(), transport.Destination{}, message.NewMessage("m", nil)), errspkg.ErrDestinationRequired)
}

func TestPublish_TransientWithoutConfirms(t *testing.T) {
	pubCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{pubCh}}
	withFakeDial(t, conn)

	c := buildConn(t, conn, false)
	defer c.Close()

	require.NoError(t, c.Publish(context.Background(), transport.Destination{Name: topology.EventsFanout}, message.NewMessage("m", nil)))
	assert.False(t, pubCh.confirmed)
	assert.Equal(t, amqp.Transient, pubCh.published[0].msg.DeliveryMode)
	assert.Equal(t, "m", pubCh.published[0].msg.MessageId)
}

func TestSubscribe(t *testing.T) {
	consumerCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{newFakeChannel(), consumerCh}}
	withFakeDial(t, conn)

	c := buildConn(t, conn, false)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := c.Subscribe(ctx, transport.Subscription{Source: topology.JobsQueue, Tag: "consumer-1", Prefetch: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, consumerCh.qos)

	acker := &fakeAcknowledger{}
	consumerCh.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  7,
		MessageId:    "evt-1",
		Exchange:     topology.JobsExchange,
		RoutingKey:   "jobs.status",
		Redelivered:  true,
		Headers:      amqp.Table{metadata.RetryCount: "2", metadata.CorrelationID: "job-1"},
		Body:         []byte(`{}`),
	}

	var d *transport.Delivery
	select {
	case d = <-deliveries:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}

	assert.Equal(t, "evt-1", d.MessageID())
	assert.Equal(t, topology.JobsQueue, d.Source)
	assert.Equal(t, topology.JobsExchange, d.Exchange)
	assert.Equal(t, "jobs.status", d.RoutingKey)
	assert.Equal(t, "consumer-1", d.ConsumerTag)
	assert.Equal(t, 2, d.RetryCount)
	assert.True(t, d.Redelivered)

	require.NoError(t, d.Nack(true))
	assert.Equal(t, []uint64{7}, acker.nacked)
	assert.True(t, acker.requeued)

	cancel()
	for range deliveries {
	}
	consumerCh.mu.Lock()
	defer consumerCh.mu.Unlock()
	assert.Equal(t, []string{"consumer-1"}, consumerCh.cancelled)
	assert.True(t, consumerCh.closed)
}

func TestSubscribe_DefaultPrefetchAndAutoAck(t *testing.T) {
	consumerCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{newFakeChannel(), consumerCh}}
	withFakeDial(t, conn)

	c := buildConn(t, conn, false)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := c.Subscribe(ctx, transport.Subscription{Source: topology.BroadcastQueue, AutoAck: true})
	require.NoError(t, err)
	assert.Equal(t, 10, consumerCh.qos)

	consumerCh.deliveries <- amqp.Delivery{Body: []byte(`{}`)}
	d := <-deliveries
	assert.True(t, d.Settled())
	assert.NotEmpty(t, d.MessageID())

	_, err = c.Subscribe(ctx, transport.Subscription{})
	assert.ErrorIs(t, err, errspkg.ErrSourceRequired)
}

func TestHealthyAndClose(t *testing.T) {
	pubCh := newFakeChannel()
	conn := &fakeConnection{channels: []*fakeChannel{pubCh}}
	withFakeDial(t, conn)

	c := buildConn(t, conn, false)
	assert.True(t, c.Healthy())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, pubCh.closed)
	assert.False(t, c.Healthy())
}
