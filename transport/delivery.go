package transport

import (
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	"github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
)

// Acknowledger settles a delivery on the broker.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one received message together with its settlement handle.
type Delivery struct {
	Message *message.Message

	// Source is the queue or topic the message was consumed from.
	Source string
	// Exchange and RoutingKey are where the message was originally published.
	Exchange   string
	RoutingKey string

	ConsumerTag       string
	RetryCount        int
	OriginalTimestamp time.Time
	Redelivered       bool

	acker   Acknowledger
	settled atomic.Bool
}

// NewDelivery wraps msg. Retry count and original timestamp are read from the
// x-retry-count and x-original-timestamp headers, falling back to timestamp.
func NewDelivery(source string, msg *message.Message, acker Acknowledger) *Delivery {
	md := metadata.FromWatermill(msg.Metadata)
	d := &Delivery{
		Message:    msg,
		Source:     source,
		Exchange:   md[metadata.Exchange],
		RoutingKey: md[metadata.RoutingKey],
		acker:      acker,
	}
	if d.Exchange == "" {
		d.Exchange = source
	}
	if d.RoutingKey == "" {
		d.RoutingKey = md[metadata.PartitionKey]
	}
	if n, ok := md.Int(metadata.RetryCount); ok && n > 0 {
		d.RetryCount = n
		d.Redelivered = true
	}
	if ts, ok := md.Time(metadata.OriginalTimestamp); ok {
		d.OriginalTimestamp = ts
	} else if ts, ok := md.Time(metadata.Timestamp); ok {
		d.OriginalTimestamp = ts
	}
	return d
}

// MessageID returns the message-id header, or the watermill UUID.
func (d *Delivery) MessageID() string {
	if id := d.Message.Metadata.Get(metadata.MessageID); id != "" {
		return id
	}
	return d.Message.UUID
}

// Payload returns the raw message body.
func (d *Delivery) Payload() []byte {
	return d.Message.Payload
}

// Headers returns a copy of the message headers.
func (d *Delivery) Headers() metadata.Metadata {
	return metadata.FromWatermill(d.Message.Metadata)
}

// Ack acknowledges the delivery. A delivery settles at most once; later calls
// return ErrDeliverySettled.
func (d *Delivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return errspkg.ErrDeliverySettled
	}
	if d.acker == nil {
		return nil
	}
	return d.acker.Ack()
}

// Nack rejects the delivery, asking the broker to redeliver it when requeue is
// set and to drop or dead-letter it otherwise.
func (d *Delivery) Nack(requeue bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return errspkg.ErrDeliverySettled
	}
	if d.acker == nil {
		return nil
	}
	return d.acker.Nack(requeue)
}

// Settled reports whether Ack or Nack has been called.
func (d *Delivery) Settled() bool {
	return d.settled.Load()
}
