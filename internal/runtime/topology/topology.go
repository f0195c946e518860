// Package topology describes the static broker layout: exchanges and queues on
// the low-latency broker, partitioned topics on the durable log, and the
// dead-letter wiring between them.
package topology

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ExchangeKind is the AMQP exchange type.
type ExchangeKind string

const (
	KindDirect ExchangeKind = "direct"
	KindTopic  ExchangeKind = "topic"
	KindFanout ExchangeKind = "fanout"
)

// CleanupPolicy is the log compaction mode of a topic.
type CleanupPolicy string

const (
	CleanupDelete  CleanupPolicy = "delete"
	CleanupCompact CleanupPolicy = "compact"
)

// Exchange is a low-latency broker exchange.
type Exchange struct {
	Name    string
	Kind    ExchangeKind
	Durable bool
}

// Binding routes messages matching Pattern on Exchange into a queue.
type Binding struct {
	Exchange string
	Pattern  string
}

// Queue is a low-latency broker queue, optionally dead-lettered.
type Queue struct {
	Name                 string
	Durable              bool
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	Bindings             []Binding
}

// Arguments returns the x-arguments declared with the queue.
func (q Queue) Arguments() map[string]any {
	if q.DeadLetterExchange == "" {
		return nil
	}
	args := map[string]any{"x-dead-letter-exchange": q.DeadLetterExchange}
	if q.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = q.DeadLetterRoutingKey
	}
	return args
}

// Topic is a durable-log topic with its retention and durability policy.
type Topic struct {
	Name              string
	Description       string
	Partitions        int32
	Replication       int16
	Retention         time.Duration
	Compression       string
	CleanupPolicy     CleanupPolicy
	MinInSyncReplicas int
	// MinRetention is the policy floor; Validate rejects a shorter Retention.
	MinRetention      time.Duration
}

// RetentionDays is the retention window in whole days.
func (t Topic) RetentionDays() int {
	return int(t.Retention / (24 * time.Hour))
}

// Topology is everything one transport declares before it is ready.
type Topology struct {
	Exchanges []Exchange
	Queues    []Queue
	Topics    []Topic
}

// IsEmpty reports whether there is nothing to declare.
func (t Topology) IsEmpty() bool {
	return len(t.Exchanges) == 0 && len(t.Queues) == 0 && len(t.Topics) == 0
}

// FindExchange looks up a declared exchange.
func (t Topology) FindExchange(name string) (Exchange, bool) {
	for _, ex := range t.Exchanges {
		if ex.Name == name {
			return ex, true
		}
	}
	return Exchange{}, false
}

// FindTopic looks up a declared topic.
func (t Topology) FindTopic(name string) (Topic, bool) {
	for _, tp := range t.Topics {
		if tp.Name == name {
			return tp, true
		}
	}
	return Topic{}, false
}

// Validate checks that every dead-letter exchange and binding target is
// declared and that every topic meets its durability floors.
func (t Topology) Validate() error {
	var errs []error

	seen := make(map[string]struct{}, len(t.Exchanges))
	for _, ex := range t.Exchanges {
		if ex.Name == "" {
			errs = append(errs, errors.New("exchange: name is required"))
			continue
		}
		switch ex.Kind {
		case KindDirect, KindTopic, KindFanout:
		default:
			errs = append(errs, fmt.Errorf("exchange %s: unsupported kind %q", ex.Name, ex.Kind))
		}
		seen[ex.Name] = struct{}{}
	}

	for _, q := range t.Queues {
		if q.Name == "" {
			errs = append(errs, errors.New("queue: name is required"))
			continue
		}
		if q.DeadLetterExchange != "" {
			if _, ok := seen[q.DeadLetterExchange]; !ok {
				errs = append(errs, fmt.Errorf("queue %s: dead-letter exchange %s is not declared", q.Name, q.DeadLetterExchange))
			}
		}
		for _, b := range q.Bindings {
			if _, ok := seen[b.Exchange]; !ok {
				errs = append(errs, fmt.Errorf("queue %s: bound to undeclared exchange %s", q.Name, b.Exchange))
			}
		}
	}

	for _, tp := range t.Topics {
		if tp.Partitions < 1 {
			errs = append(errs, fmt.Errorf("topic %s: partitions must be at least 1", tp.Name))
		}
		if tp.Replication < 1 {
			errs = append(errs, fmt.Errorf("topic %s: replication must be at least 1", tp.Name))
		}
		if tp.MinInSyncReplicas < 1 {
			errs = append(errs, fmt.Errorf("topic %s: min in-sync replicas must be at least 1", tp.Name))
		}
		if tp.MinInSyncReplicas > int(tp.Replication) {
			errs = append(errs, fmt.Errorf("topic %s: min in-sync replicas %d exceeds replication %d", tp.Name, tp.MinInSyncReplicas, tp.Replication))
		}
		if tp.Retention < tp.MinRetention {
			errs = append(errs, fmt.Errorf("topic %s: retention %s below policy floor %s", tp.Name, tp.Retention, tp.MinRetention))
		}
	}

	return errors.Join(errs...)
}

// ConfigEntries renders the topic policy as broker topic configs.
func (t Topic) ConfigEntries() map[string]string {
	entries := map[string]string{
		"retention.ms":        strconv.FormatInt(t.Retention.Milliseconds(), 10),
		"cleanup.policy":      string(t.CleanupPolicy),
		"min.insync.replicas": strconv.Itoa(t.MinInSyncReplicas),
	}
	if t.Compression != "" {
		entries["compression.type"] = t.Compression
	}
	return entries
}
