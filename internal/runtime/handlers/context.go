package handlers

import (
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/transport"
)

// MessageContextBase provides common functionality for all message context types.
// It holds the delivery headers, the logger and the delivery itself so
// handlers can settle it.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
	Delivery *transport.Delivery
}

func newBase(d *transport.Delivery, logger loggingpkg.ServiceLogger) MessageContextBase {
	return MessageContextBase{
		Metadata: d.Headers(),
		Logger:   loggingpkg.OrNop(logger),
		Delivery: d,
	}
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for outgoing events without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation-id header, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[metadatapkg.CorrelationID]
}

// RetryCount returns the application retry count of the delivery.
func (b MessageContextBase) RetryCount() int {
	if b.Delivery != nil {
		return b.Delivery.RetryCount
	}
	n, _ := b.Metadata.Int(metadatapkg.RetryCount)
	return n
}
