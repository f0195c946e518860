package runtime

import (
	"context"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	idspkg "github.com/cosmic-horizons/eventbus/internal/runtime/ids"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
)

// Validator validates a payload against one registered schema version of its
// event type. *schema.Registry implements it.
type Validator interface {
	ValidateVersion(eventType string, version int, payload any) error
}

// StatusDetails carries the optional fields of a status change.
type StatusDetails struct {
	PreviousStatus   envelope.JobStatus
	Reason           string
	TransitionTimeMS int64
	UserID           string
}

// JobEventEmitter turns job-domain occurrences into validated, published
// envelopes on the jobs exchange, keyed by job id.
type JobEventEmitter struct {
	publisher *Publisher
	validator Validator
	eventLog  *EventLog
	exchange  string
	logger    loggingpkg.ServiceLogger
}

// EmitterOption configures a JobEventEmitter.
type EmitterOption func(*JobEventEmitter)

// WithEventLogMirror also writes every emitted event to the job-lifecycle
// topic. Mirror failures are logged, not returned.
func WithEventLogMirror(log *EventLog) EmitterOption {
	return func(e *JobEventEmitter) { e.eventLog = log }
}

// WithEmitterLogger sets the emitter logger.
func WithEmitterLogger(log loggingpkg.ServiceLogger) EmitterOption {
	return func(e *JobEventEmitter) { e.logger = loggingpkg.OrNop(log) }
}

// NewJobEventEmitter creates an emitter that validates with validator and
// publishes with pub.
func NewJobEventEmitter(pub *Publisher, validator Validator, opts ...EmitterOption) *JobEventEmitter {
	e := &JobEventEmitter{
		publisher: pub,
		validator: validator,
		exchange:  topology.JobsExchange,
		logger:    loggingpkg.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitJobSubmitted announces job and returns the new event id.
func (e *JobEventEmitter) EmitJobSubmitted(ctx context.Context, job envelope.JobSubmitted, opts ...envelope.Option) (string, error) {
	if job.UserID != "" {
		opts = append([]envelope.Option{envelope.WithUserID(job.UserID)}, opts...)
	}
	return e.emit(ctx, job, job.ID, topology.RouteJobSubmitted, opts)
}

// EmitJobStatusChanged announces a status transition of jobID.
func (e *JobEventEmitter) EmitJobStatusChanged(ctx context.Context, jobID string, status envelope.JobStatus, details StatusDetails, opts ...envelope.Option) (string, error) {
	payload := envelope.JobStatusChanged{
		JobID:            jobID,
		Status:           status,
		PreviousStatus:   details.PreviousStatus,
		Reason:           details.Reason,
		TransitionTimeMS: details.TransitionTimeMS,
	}
	if details.UserID != "" {
		opts = append([]envelope.Option{envelope.WithUserID(details.UserID)}, opts...)
	}
	return e.emit(ctx, payload, jobID, topology.RouteJobStatus, opts)
}

// EmitJobCompleted announces the successful end of jobID.
func (e *JobEventEmitter) EmitJobCompleted(ctx context.Context, jobID string, result envelope.JobResult, opts ...envelope.Option) (string, error) {
	return e.emit(ctx, envelope.JobCompleted{JobID: jobID, Result: result}, jobID, topology.RouteJobCompleted, opts)
}

// EmitJobError announces the failure of jobID.
func (e *JobEventEmitter) EmitJobError(ctx context.Context, jobID string, failure envelope.JobFailure, opts ...envelope.Option) (string, error) {
	return e.emit(ctx, envelope.JobFailed{JobID: jobID, Error: failure}, jobID, topology.RouteJobError, opts)
}

// emit validates before any network call: an invalid payload never reaches
// the publisher. The payload is checked against the schema version stamped on
// the envelope, not the latest registered one.
func (e *JobEventEmitter) emit(ctx context.Context, payload envelope.Payload, jobID, routingKey string, opts []envelope.Option) (string, error) {
	eventID := idspkg.CreateULID()
	envOpts := make([]envelope.Option, 0, len(opts)+1)
	envOpts = append(envOpts, opts...)
	envOpts = append(envOpts, envelope.WithEventID(eventID))
	env, err := envelope.New(payload, envOpts...)
	if err != nil {
		return "", err
	}

	if e.validator != nil {
		if err := e.validator.ValidateVersion(env.EventType, env.SchemaVersion, payload); err != nil {
			return "", err
		}
	}

	ok, err := e.publisher.Publish(ctx, env, PublishOptions{
		Destination:  e.exchange,
		Key:          routingKey,
		PartitionKey: jobID,
		Persistent:   Persistent(true),
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errspkg.ErrPublishNotConfirmed
	}

	fields := loggingpkg.LogFields{
		"event_id":       eventID,
		"event_type":     env.EventType,
		"job_id":         jobID,
		"correlation_id": env.CorrelationID,
	}
	if e.eventLog != nil {
		if err := e.eventLog.PublishJobLifecycle(ctx, env); err != nil {
			e.logger.Error("Job event not mirrored to event log", err, fields)
		}
	}
	e.logger.Debug("Job event emitted", fields)
	return eventID, nil
}
