// Package eventbus is the messaging layer of the Cosmic Horizons job portal.
// It moves job lifecycle events between services over two transport tiers:
// a low-latency message broker (RabbitMQ through Watermill AMQP) for work
// dispatch, and a durable partitioned log (Kafka through Watermill Kafka) for
// replayable history. An optional broadcast transport (NATS or the in-process
// fan-out) carries non-persistent notifications.
//
// Every event travels inside an Envelope: a ULID event id, a dotted event
// type, a millisecond UTC timestamp, a correlation id shared by the events of
// one job, a schema version and a typed payload. Publishers frame envelopes
// with the standard headers (message id, correlation id, content type,
// timestamp, persistence and trace context) before handing them to the
// transport.
//
// Bus wires the pieces together from a Config:
//
//	conf, err := eventbus.LoadConfig("eventbus.yaml")
//	bus, err := eventbus.NewBus(conf, logger, eventbus.BusDependencies{})
//	err = bus.Start(ctx)
//	defer bus.Close()
//
//	eventbus.ConsumeEvents(ctx, bus.Consumer, handleSubmitted,
//		eventbus.ConsumeOptions{Source: eventbus.JobsQueue},
//		bus.RetryPolicy(eventbus.RetryConfig{}),
//		eventbus.AckOnSuccess(bus.Consumer))
//
//	bus.Emitter.EmitJobSubmitted(ctx, eventbus.JobSubmitted{ID: "job-1"})
//
// # Topology
//
// The broker topology is declared on connect: the jobs topic exchange, the
// events fanout exchange and the dead-letter exchange, with the jobs, broadcast
// and DLQ queues bound to them. The log carries five topics (job lifecycle,
// job metrics, notifications, audit trail and system health) with their
// partition counts and retention.
//
// # Failure handling
//
// RetryOrDeadLetter requeues a failed delivery with an incremented
// x-retry-count header and an exponential delay until the retry budget is
// spent, then hands it to the DeadLetterRouter. The router writes a
// DeadLetterRecord to the dead-letter exchange and never returns an error;
// routing failures are logged and counted.
package eventbus
