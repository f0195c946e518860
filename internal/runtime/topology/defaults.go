package topology

import (
	"sort"
	"time"
)

// Low-latency broker names.
const (
	JobsExchange       = "jobs.exchange"
	EventsFanout       = "events.fanout"
	DeadLetterExchange = "dlx.exchange"
	JobsQueue          = "jobs.queue"
	BroadcastQueue     = "events.broadcast"
	JobsDLQ            = "jobs.dlq"
	DeadLetterKey      = "dlq.messages"
)

// Routing keys on JobsExchange.
const (
	RouteJobSubmitted = "jobs.submitted"
	RouteJobStatus    = "jobs.status"
	RouteJobCompleted = "jobs.completed"
	RouteJobError     = "jobs.error"
)

// Durable-log topics.
const (
	TopicJobLifecycle  = "job-lifecycle"
	TopicJobMetrics    = "job-metrics"
	TopicNotifications = "notifications"
	TopicAuditTrail    = "audit-trail"
	TopicSystemHealth  = "system-health"
)

const day = 24 * time.Hour

// JobStatusKey is the per-job status routing key, job.<id>.status.
func JobStatusKey(jobID string) string { return "job." + jobID + ".status" }

// JobMetricsKey is the per-job metrics routing key, job.<id>.metrics.
func JobMetricsKey(jobID string) string { return "job." + jobID + ".metrics" }

// BrokerTopology returns the low-latency broker topology. Both work queues
// dead-letter into DeadLetterExchange, which feeds JobsDLQ.
func BrokerTopology(durableExchanges, durableQueues bool) Topology {
	return Topology{
		Exchanges: []Exchange{
			{Name: JobsExchange, Kind: KindTopic, Durable: durableExchanges},
			{Name: EventsFanout, Kind: KindFanout, Durable: durableExchanges},
			{Name: DeadLetterExchange, Kind: KindTopic, Durable: durableExchanges},
		},
		Queues: []Queue{
			{
				Name:                 JobsQueue,
				Durable:              durableQueues,
				DeadLetterExchange:   DeadLetterExchange,
				DeadLetterRoutingKey: DeadLetterKey,
				Bindings: []Binding{
					{Exchange: JobsExchange, Pattern: "job.#"},
					{Exchange: JobsExchange, Pattern: "jobs.#"},
				},
			},
			{
				Name:                 BroadcastQueue,
				Durable:              durableQueues,
				DeadLetterExchange:   DeadLetterExchange,
				DeadLetterRoutingKey: DeadLetterKey,
				Bindings:             []Binding{{Exchange: EventsFanout, Pattern: ""}},
			},
			{
				Name:    JobsDLQ,
				Durable: durableQueues,
				Bindings: []Binding{
					{Exchange: DeadLetterExchange, Pattern: "dlq.#"},
					{Exchange: DeadLetterExchange, Pattern: "#"},
				},
			},
		},
	}
}

// LogTopics returns the five canonical durable-log topics. Job lifecycle and
// audit trail are compliance relevant and carry stronger retention and
// in-sync replica floors, so they are replicated three ways: acks=all writes
// need at least min.insync.replicas live replicas.
func LogTopics() []Topic {
	return []Topic{
		{
			Name:              TopicJobLifecycle,
			Description:       "job submitted, status, completed and failed events",
			Partitions:        10,
			Replication:       3,
			Retention:         30 * day,
			Compression:       "snappy",
			CleanupPolicy:     CleanupDelete,
			MinInSyncReplicas: 2,
			MinRetention:      30 * day,
		},
		{
			Name:              TopicJobMetrics,
			Description:       "per-job resource usage samples",
			Partitions:        20,
			Replication:       1,
			Retention:         30 * day,
			Compression:       "snappy",
			CleanupPolicy:     CleanupDelete,
			MinInSyncReplicas: 1,
		},
		{
			Name:              TopicNotifications,
			Description:       "user notifications and alerts",
			Partitions:        5,
			Replication:       1,
			Retention:         7 * day,
			Compression:       "lz4",
			CleanupPolicy:     CleanupDelete,
			MinInSyncReplicas: 1,
		},
		{
			Name:              TopicAuditTrail,
			Description:       "compliance audit trail",
			Partitions:        5,
			Replication:       3,
			Retention:         90 * day,
			Compression:       "snappy",
			CleanupPolicy:     CleanupDelete,
			MinInSyncReplicas: 2,
			MinRetention:      90 * day,
		},
		{
			Name:              TopicSystemHealth,
			Description:       "component health probes",
			Partitions:        3,
			Replication:       1,
			Retention:         7 * day,
			Compression:       "lz4",
			CleanupPolicy:     CleanupDelete,
			MinInSyncReplicas: 1,
		},
	}
}

// LogTopology returns the durable-log topology.
func LogTopology() Topology {
	return Topology{Topics: LogTopics()}
}

// GetTopicMetadata returns the canonical descriptor of a topic.
func GetTopicMetadata(name string) (Topic, bool) {
	return LogTopology().FindTopic(name)
}

// AllTopicNames lists the canonical topics, sorted.
func AllTopicNames() []string {
	topics := LogTopics()
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}

// IsValidTopic reports whether name is a canonical topic.
func IsValidTopic(name string) bool {
	_, ok := GetTopicMetadata(name)
	return ok
}

// RetentionDays returns a topic's retention in days, or 0 when unknown.
func RetentionDays(name string) int {
	t, ok := GetTopicMetadata(name)
	if !ok {
		return 0
	}
	return t.RetentionDays()
}

// ConsumerGroup names a durable-log consumer group and what it reads.
type ConsumerGroup struct {
	ID          string
	Description string
	Topics      []string
}

// ConsumerGroups returns the known durable-log consumer groups.
func ConsumerGroups() []ConsumerGroup {
	return []ConsumerGroup{
		{ID: "cosmic-horizons-event-processor", Description: "job lifecycle processing", Topics: []string{TopicJobLifecycle}},
		{ID: "cosmic-horizons-api-broadcast", Description: "websocket fan-out to browsers", Topics: []string{TopicJobLifecycle, TopicNotifications}},
		{ID: "cosmic-horizons-metrics-aggregator", Description: "usage analytics", Topics: []string{TopicJobMetrics}},
		{ID: "cosmic-horizons-audit-archiver", Description: "long-term audit storage", Topics: []string{TopicAuditTrail}},
		{ID: "cosmic-horizons-health-monitor", Description: "platform health dashboards", Topics: []string{TopicSystemHealth}},
	}
}
