// Package kafka provides the durable-log transport over Kafka: keyed publishes,
// consumer groups, topic creation and consumer-group description.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Admin is the subset of sarama.ClusterAdmin the transport uses.
type Admin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	DescribeConsumerGroups(groups []string) ([]*sarama.GroupDescription, error)
	Close() error
}

// AdminFactory allows overriding the cluster admin creation for testing.
var AdminFactory = func(addrs []string, conf *sarama.Config) (Admin, error) {
	return sarama.NewClusterAdmin(addrs, conf)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka connection. The cluster admin and per-group
// subscribers are created on first use.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	brokers := cfg.GetURLs()
	if len(brokers) == 0 {
		return nil, errspkg.ErrNoBrokerURLs
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             KeyedMarshaler{},
			OverwriteSaramaConfig: publisherSaramaConfig(cfg),
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return &Conn{
		WatermillConn: transport.NewWatermillConn(publisher, nil),
		cfg:           cfg,
		brokers:       brokers,
		logger:        logger,
		subscribers:   make(map[string]message.Subscriber),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// KeyedMarshaler uses the partition-key header as the Kafka message key.
// Events without one are produced unkeyed and spread across partitions.
type KeyedMarshaler struct {
	kafka.DefaultMarshaler
}

// Marshal implements kafka.Marshaler.
func (m KeyedMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	pm, err := m.DefaultMarshaler.Marshal(topic, msg)
	if err != nil {
		return nil, err
	}
	pm.Key = nil
	if key := msg.Metadata.Get(metadata.PartitionKey); key != "" {
		pm.Key = sarama.StringEncoder(key)
	}
	return pm, nil
}

func baseSaramaConfig(cfg transport.Config, base *sarama.Config) *sarama.Config {
	if id := cfg.GetClientID(); id != "" {
		base.ClientID = id
	}
	if timeout := cfg.GetConnectTimeout(); timeout > 0 {
		base.Net.DialTimeout = timeout
	}
	if interval := cfg.GetReconnectInterval(); interval > 0 {
		base.Metadata.Retry.Backoff = interval
	}
	return base
}

func publisherSaramaConfig(cfg transport.Config) *sarama.Config {
	sc := baseSaramaConfig(cfg, kafka.DefaultSaramaSyncPublisherConfig())
	if cfg.GetConfirmPublishes() {
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	return sc
}

func subscriberSaramaConfig(cfg transport.Config) *sarama.Config {
	sc := baseSaramaConfig(cfg, kafka.DefaultSaramaSubscriberConfig())
	if hb := cfg.GetHeartbeat(); hb > 0 && hb < sc.Consumer.Group.Session.Timeout {
		sc.Consumer.Group.Heartbeat.Interval = hb
	}
	return sc
}

// Conn is a live Kafka connection.
type Conn struct {
	*transport.WatermillConn

	cfg     transport.Config
	brokers []string
	logger  watermill.LoggerAdapter

	mu          sync.Mutex
	admin       Admin
	subscribers map[string]message.Subscriber
}

var (
	_ transport.TopologyDeclarer = (*Conn)(nil)
	_ transport.GroupDescriber   = (*Conn)(nil)
)

// Subscribe consumes sub.Source as part of consumer group sub.Group, or the
// configured group when empty. One subscriber is kept per group.
func (c *Conn) Subscribe(ctx context.Context, sub transport.Subscription) (<-chan *transport.Delivery, error) {
	if sub.Source == "" {
		return nil, errspkg.ErrSourceRequired
	}
	group := sub.Group
	if group == "" {
		group = c.cfg.GetConsumerGroup()
	}

	subscriber, err := c.subscriber(group)
	if err != nil {
		return nil, err
	}
	return transport.SubscribeMessages(ctx, subscriber, sub)
}

func (c *Conn) subscriber(group string) (message.Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.subscribers[group]; ok {
		return s, nil
	}
	s, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               c.brokers,
			Unmarshaler:           KeyedMarshaler{},
			ConsumerGroup:         group,
			OverwriteSaramaConfig: subscriberSaramaConfig(c.cfg),
		},
		c.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("create subscriber for group %q: %w", group, err)
	}
	c.subscribers[group] = s
	return s, nil
}

func (c *Conn) clusterAdmin() (Admin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.admin != nil {
		return c.admin, nil
	}
	conf := baseSaramaConfig(c.cfg, sarama.NewConfig())
	conf.Version = sarama.V2_8_0_0
	admin, err := AdminFactory(c.brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("create cluster admin: %w", err)
	}
	c.admin = admin
	return admin, nil
}

// Declare creates every topic of topo that does not exist yet. Existing topics
// are left untouched.
func (c *Conn) Declare(ctx context.Context, topo topology.Topology) error {
	if len(topo.Topics) == 0 {
		return nil
	}
	admin, err := c.clusterAdmin()
	if err != nil {
		return err
	}

	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, topic := range topo.Topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := existing[topic.Name]; ok {
			continue
		}

		entries := topic.ConfigEntries()
		configEntries := make(map[string]*string, len(entries))
		for k, v := range entries {
			configEntries[k] = &v
		}

		err := admin.CreateTopic(topic.Name, &sarama.TopicDetail{
			NumPartitions:     topic.Partitions,
			ReplicationFactor: topic.Replication,
			ConfigEntries:     configEntries,
		}, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic.Name, err)
		}

		c.logger.Info("Kafka topic created", watermill.LogFields{
			"topic":      topic.Name,
			"partitions": topic.Partitions,
		})
	}
	return nil
}

// DescribeGroup reports the broker's view of a consumer group.
func (c *Conn) DescribeGroup(ctx context.Context, groupID string) (transport.GroupInfo, error) {
	admin, err := c.clusterAdmin()
	if err != nil {
		return transport.GroupInfo{}, err
	}

	descriptions, err := admin.DescribeConsumerGroups([]string{groupID})
	if err != nil {
		return transport.GroupInfo{}, fmt.Errorf("describe group %s: %w", groupID, err)
	}
	if len(descriptions) == 0 || descriptions[0] == nil {
		return transport.GroupInfo{}, fmt.Errorf("describe group %s: empty response", groupID)
	}

	desc := descriptions[0]
	if desc.Err != sarama.ErrNoError {
		return transport.GroupInfo{}, fmt.Errorf("describe group %s: %w", groupID, desc.Err)
	}

	info := transport.GroupInfo{GroupID: desc.GroupId, State: desc.State}
	for _, m := range desc.Members {
		info.Members = append(info.Members, transport.GroupMember{
			MemberID: m.MemberId,
			ClientID: m.ClientId,
			Host:     m.ClientHost,
		})
	}
	sort.Slice(info.Members, func(i, j int) bool {
		return info.Members[i].MemberID < info.Members[j].MemberID
	})
	return info, ctx.Err()
}

// Close closes the publisher, every subscriber and the cluster admin.
func (c *Conn) Close() error {
	errs := []error{c.WatermillConn.Close()}

	c.mu.Lock()
	defer c.mu.Unlock()
	for group, s := range c.subscribers {
		errs = append(errs, s.Close())
		delete(c.subscribers, group)
	}
	if c.admin != nil {
		errs = append(errs, c.admin.Close())
		c.admin = nil
	}
	return errors.Join(errs...)
}
