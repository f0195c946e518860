/*
Package runtime provides the publishing and consuming layer of the event bus.

# Architecture Overview

Every transport connection is owned by a connection.Manager. The components in
this package borrow the live connection from a manager for each call and fail
fast with ErrNotConnected when there is none; nothing is buffered.

# Package Structure

## Bus (service.go)

The Bus is the orchestrator that wires together:
  - the broker, durable log and optional broadcast connection managers
  - publishers and consumers on each connection
  - the dead-letter router, job event emitter and event log
  - Prometheus metrics and the optional /metrics endpoint

## Publishing (publisher.go, emitter.go, eventlog.go)

  - Publisher: frames envelopes with the standard headers and hands them to the
    transport, reporting whether the transport accepted them
  - JobEventEmitter: validates job payloads against the schema registry and
    publishes them to the jobs exchange keyed by job id
  - EventLog: writes envelopes to the durable log topics

## Consuming (consumer.go, hooks.go, dlq.go)

  - Consumer: subscriptions, dispatch goroutines bounded by prefetch, and the
    acknowledge, nack and retry primitives
  - DeliveryHooks: callbacks around handler invocation
  - DeadLetterRouter: moves exhausted deliveries to the dead-letter exchange

## Verification (ordering.go)

Ordering checks over delivered envelopes for tests and operational tooling.

## Observability (metrics.go, dlq_metrics.go, tracing.go)

Prometheus collectors for publishes, deliveries, connections and dead-letter
routing, and OpenTelemetry spans around publish and dispatch.

# Sub-packages

  - config/: configuration loading and validation
  - connection/: connection lifecycle, failover and supervision
  - envelope/: the event envelope and payload variants
  - errors/: sentinel errors
  - ids/: ULID event ids and consumer tags
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: header keys and helpers
  - schema/: the schema registry
  - topology/: exchanges, queues, topics and consumer groups

# Usage Example

	bus, err := runtime.NewBus(cfg, logger, runtime.BusDependencies{})
	if err != nil {
		return err
	}
	if err := bus.Start(ctx); err != nil {
		return err
	}
	defer bus.Close()

	eventID, err := bus.Emitter.EmitJobSubmitted(ctx, envelope.JobSubmitted{ID: "job-123", Agent: "AlphaCal"})
*/
package runtime
