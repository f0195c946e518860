package metadata

import (
	"strconv"
	"time"
)

// Standard header keys stamped on every published message.
const (
	ContentType       = "content-type"
	CorrelationID     = "correlation-id"
	Timestamp         = "timestamp"
	MessageID         = "message-id"
	EventType         = "event-type"
	SchemaVersion     = "schema-version"
	PartitionKey      = "partition-key"
	Exchange          = "x-exchange"
	RoutingKey        = "x-routing-key"
	Persistent        = "persistent"
	RetryCount        = "x-retry-count"
	OriginalTimestamp = "x-original-timestamp"
	TraceID           = "trace_id"
	SpanID            = "span_id"
)

// DefaultContentType is used when a publisher does not name one.
const DefaultContentType = "application/json"

// TimeLayout is the ISO-8601 layout, with millisecond precision, used for every
// timestamp carried in headers and envelopes.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout, normalised to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and any RFC3339 variant.
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Merge returns a copy of m with every entry of overrides applied on top.
func (m Metadata) Merge(overrides map[string]string) Metadata {
	cloned := m.cloneWithExtra(len(overrides))
	for k, v := range overrides {
		cloned[k] = v
	}
	return cloned
}

// Int reads an integer header. Missing or malformed values report false.
func (m Metadata) Int(key string) (int, bool) {
	raw, ok := m[key]
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Time reads a timestamp header written with FormatTime.
func (m Metadata) Time(key string) (time.Time, bool) {
	raw, ok := m[key]
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := ParseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
