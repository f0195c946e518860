package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.SupportsNativeDLQ)
	assert.False(t, caps.SupportsReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSCapabilities, caps)
	assert.Equal(t, "nats", caps.Name)
}

func TestConnectOptions(t *testing.T) {
	opts := connectOptions(&mockConfig{urls: []string{"nats://localhost:4222"}})
	// MaxReconnects, ReconnectWait, Timeout, PingInterval, Name
	assert.Len(t, opts, 5)
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}

		PublisherFactory = func(config nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", config.URL)
			assert.True(t, config.JetStream.Disabled)
			return mockPub, nil
		}
		SubscriberFactory = func(config nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Empty(t, config.QueueGroupPrefix)
			return mockSub, nil
		}

		cfg := &mockConfig{urls: []string{"nats://localhost:4222", "nats://localhost:4223"}}
		conn, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		wc := conn.(*transport.WatermillConn)
		assert.Equal(t, mockPub, wc.Publisher)
		assert.Equal(t, mockSub, wc.Subscriber)

		require.NoError(t, conn.Publish(context.Background(), transport.Destination{Name: "events.fanout"}, message.NewMessage("m", nil)))
		assert.Equal(t, []string{"events.fanout"}, mockPub.topics)
	})

	t.Run("requires a url", func(t *testing.T) {
		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorIs(t, err, errspkg.ErrNoBrokerURLs)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(config nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &mockConfig{urls: []string{"nats://localhost:4222"}}, watermill.NopLogger{})
		assert.EqualError(t, err, "publisher error")
	})

	t.Run("returns error when subscriber factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		mockPub := &mockPublisher{}
		PublisherFactory = func(config nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(config nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &mockConfig{urls: []string{"nats://localhost:4222"}}, watermill.NopLogger{})
		assert.EqualError(t, err, "subscriber error")
		assert.True(t, mockPub.closed)
	})
}

type mockConfig struct {
	urls []string
}

func (m *mockConfig) GetTransportName() string            { return TransportName }
func (m *mockConfig) GetURLs() []string                   { return m.urls }
func (m *mockConfig) GetReconnectInterval() time.Duration { return time.Second }
func (m *mockConfig) GetHeartbeat() time.Duration         { return time.Second }
func (m *mockConfig) GetPrefetch() int                    { return 1 }
func (m *mockConfig) GetConsumerGroup() string            { return "ignored" }
func (m *mockConfig) GetClientID() string                 { return "api" }
func (m *mockConfig) GetConfirmPublishes() bool           { return false }
func (m *mockConfig) GetConnectTimeout() time.Duration    { return time.Second }

type mockPublisher struct {
	topics []string
	closed bool
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.topics = append(m.topics, topic)
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
