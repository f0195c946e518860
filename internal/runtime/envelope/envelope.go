// Package envelope defines the canonical event record moved by the event bus:
// identity, timing and causal metadata wrapped around a typed payload.
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	idspkg "github.com/cosmic-horizons/eventbus/internal/runtime/ids"
	"github.com/cosmic-horizons/eventbus/internal/runtime/jsoncodec"
	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
)

// DefaultSchemaVersion is stamped on envelopes that do not ask for another.
const DefaultSchemaVersion = 1

// Envelope is the unit of transport.
type Envelope struct {
	// EventID is a ULID assigned at creation. It never changes afterwards and
	// is what consumers deduplicate on.
	EventID string `json:"event_id"`

	// EventType selects the payload variant and the routing.
	EventType string `json:"event_type"`

	// Timestamp is the event creation time. Ordering checks read it; it is not
	// a wall-clock authority.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links every event of one causal chain and doubles as the
	// default partition key.
	CorrelationID string `json:"correlation_id"`

	UserID        string  `json:"user_id,omitempty"`
	SchemaVersion int     `json:"schema_version"`
	Payload       Payload `json:"payload"`

	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	ParentEventID  string   `json:"parent_event_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

type settings struct {
	eventID       string
	correlationID string
	userID        string
	schemaVersion int
	parentID      string
	parentCorrID  string
	tags          []string
	idemUnique    string
	timestamp     time.Time
}

// Option customises New.
type Option func(*settings)

// WithEventID overrides the generated event id.
func WithEventID(id string) Option {
	return func(s *settings) { s.eventID = id }
}

// WithCorrelationID pins the causal chain id. It wins over WithParent.
func WithCorrelationID(id string) Option {
	return func(s *settings) { s.correlationID = id }
}

// WithUserID records the originating actor.
func WithUserID(id string) Option {
	return func(s *settings) { s.userID = id }
}

// WithSchemaVersion selects the payload schema version.
func WithSchemaVersion(v int) Option {
	return func(s *settings) { s.schemaVersion = v }
}

// WithParent links the new event to a preceding one and joins its chain.
func WithParent(parent Envelope) Option {
	return func(s *settings) {
		s.parentID = parent.EventID
		s.parentCorrID = parent.CorrelationID
	}
}

// WithTags attaches free-form filter labels.
func WithTags(tags ...string) Option {
	return func(s *settings) { s.tags = append(s.tags, tags...) }
}

// WithIdempotencyKey derives the idempotency key from unique and the event
// timestamp, see IdempotencyKey.
func WithIdempotencyKey(unique string) Option {
	return func(s *settings) { s.idemUnique = unique }
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) Option {
	return func(s *settings) { s.timestamp = ts }
}

// New wraps payload into an envelope. The event type comes from the payload
// variant; the correlation id falls back to the payload's natural key and then
// to the event id.
func New(payload Payload, opts ...Option) (Envelope, error) {
	if payload == nil {
		return Envelope{}, fmt.Errorf("%w: payload is nil", errspkg.ErrInvalidPayload)
	}

	s := settings{schemaVersion: DefaultSchemaVersion}
	for _, opt := range opts {
		opt(&s)
	}
	if s.eventID == "" {
		s.eventID = idspkg.CreateULID()
	}
	if s.timestamp.IsZero() {
		s.timestamp = time.Now()
	}

	env := Envelope{
		EventID:       s.eventID,
		EventType:     payload.EventType(),
		Timestamp:     s.timestamp.UTC().Truncate(time.Millisecond),
		CorrelationID: firstNonEmpty(s.correlationID, s.parentCorrID, payload.PartitionKey(), s.eventID),
		UserID:        s.userID,
		SchemaVersion: s.schemaVersion,
		Payload:       payload,
		ParentEventID: s.parentID,
		Tags:          s.tags,
	}
	if s.idemUnique != "" {
		env.IdempotencyKey = IdempotencyKey(env.EventType, s.idemUnique, env.Timestamp)
	}
	return env, env.Validate()
}

// IdempotencyKey renders ${event_type}-${unique}-${unix millis}.
func IdempotencyKey(eventType, unique string, ts time.Time) string {
	return eventType + "-" + unique + "-" + strconv.FormatInt(ts.UnixMilli(), 10)
}

// PartitionKey is the routing/partition key for the envelope: the payload's
// natural key, else the correlation id. An empty result means fan-out with no
// ordering guarantee.
func (e Envelope) PartitionKey() string {
	if e.Payload != nil {
		if key := e.Payload.PartitionKey(); key != "" {
			return key
		}
		if IsBroadcastType(e.EventType) {
			return ""
		}
	}
	return e.CorrelationID
}

// Validate checks the envelope's own invariants. Payload field rules are the
// schema registry's concern.
func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", errspkg.ErrInvalidPayload)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event_type is required", errspkg.ErrInvalidPayload)
	}
	if !IsKnownType(e.EventType) {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, e.EventType)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", errspkg.ErrInvalidPayload)
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("%w: correlation_id is required", errspkg.ErrInvalidPayload)
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("%w: schema_version must be positive, got %d", errspkg.ErrInvalidPayload, e.SchemaVersion)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: payload is required", errspkg.ErrInvalidPayload)
	}
	if e.Payload.EventType() != e.EventType {
		return fmt.Errorf("%w: %s payload under event_type %s", errspkg.ErrInvalidPayload, e.Payload.EventType(), e.EventType)
	}
	return nil
}

// Clone returns a copy that shares no slices with e. Payload variants are
// values and copy on assignment.
func (e Envelope) Clone() Envelope {
	cloned := e
	if e.Tags != nil {
		cloned.Tags = append([]string(nil), e.Tags...)
	}
	return cloned
}

type wireEnvelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Timestamp      string          `json:"timestamp"`
	CorrelationID  string          `json:"correlation_id"`
	UserID         string          `json:"user_id,omitempty"`
	SchemaVersion  int             `json:"schema_version"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ParentEventID  string          `json:"parent_event_id,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
}

// MarshalJSON writes the timestamp as ISO-8601 with millisecond precision.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	if e.Payload != nil {
		raw, err := jsoncodec.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.EventType, err)
		}
		payload = raw
	}
	return jsoncodec.Marshal(wireEnvelope{
		EventID:        e.EventID,
		EventType:      e.EventType,
		Timestamp:      metadata.FormatTime(e.Timestamp),
		CorrelationID:  e.CorrelationID,
		UserID:         e.UserID,
		SchemaVersion:  e.SchemaVersion,
		Payload:        payload,
		IdempotencyKey: e.IdempotencyKey,
		ParentEventID:  e.ParentEventID,
		Tags:           e.Tags,
	})
}

// UnmarshalJSON decodes the payload into the variant named by event_type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := jsoncodec.Unmarshal(data, &wire); err != nil {
		return err
	}

	ts, err := metadata.ParseTime(wire.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}

	var payload Payload
	if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
		payload, err = DecodePayload(wire.EventType, wire.Payload)
		if err != nil {
			return err
		}
	}

	*e = Envelope{
		EventID:        wire.EventID,
		EventType:      wire.EventType,
		Timestamp:      ts.UTC(),
		CorrelationID:  wire.CorrelationID,
		UserID:         wire.UserID,
		SchemaVersion:  wire.SchemaVersion,
		Payload:        payload,
		IdempotencyKey: wire.IdempotencyKey,
		ParentEventID:  wire.ParentEventID,
		Tags:           wire.Tags,
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
