package envelope

import (
	"fmt"
	"sort"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/jsoncodec"
)

// Event types with a payload variant.
const (
	TypeJobSubmitted        = "job.submitted"
	TypeJobStatusChanged    = "job.status.changed"
	TypeJobCompleted        = "job.completed"
	TypeJobFailed           = "job.failed"
	TypeJobCancelled        = "job.cancelled"
	TypeJobMetricsRecorded  = "job.metrics.recorded"
	TypeNotificationSent    = "notification.sent"
	TypeAlertRaised         = "alert.raised"
	TypeSystemHealthCheck   = "system.health.check"
	TypeAuditActionRecorded = "audit.action.recorded"
)

var decoders = map[string]func([]byte) (Payload, error){
	TypeJobSubmitted:        decode[JobSubmitted],
	TypeJobStatusChanged:    decode[JobStatusChanged],
	TypeJobCompleted:        decode[JobCompleted],
	TypeJobFailed:           decode[JobFailed],
	TypeJobCancelled:        decode[JobCancelled],
	TypeJobMetricsRecorded:  decode[JobMetricsRecorded],
	TypeNotificationSent:    decode[NotificationSent],
	TypeAlertRaised:         decode[AlertRaised],
	TypeSystemHealthCheck:   decode[SystemHealthCheck],
	TypeAuditActionRecorded: decode[AuditActionRecorded],
}

// broadcastTypes carry no natural ordering key and are published with a null key.
var broadcastTypes = map[string]struct{}{
	TypeNotificationSent: {},
	TypeAlertRaised:      {},
}

func decode[T Payload](raw []byte) (Payload, error) {
	var p T
	if err := jsoncodec.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodePayload decodes raw JSON into the variant registered for eventType.
func DecodePayload(eventType string, raw []byte) (Payload, error) {
	dec, ok := decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, eventType)
	}
	p, err := dec(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return p, nil
}

// IsKnownType reports whether eventType has a payload variant.
func IsKnownType(eventType string) bool {
	_, ok := decoders[eventType]
	return ok
}

// IsBroadcastType reports whether eventType is delivered without an ordering key.
func IsBroadcastType(eventType string) bool {
	_, ok := broadcastTypes[eventType]
	return ok
}

// EventTypes lists every event type with a payload variant, sorted.
func EventTypes() []string {
	out := make([]string, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
