package eventbus

import (
	"context"

	runtimepkg "github.com/cosmic-horizons/eventbus/internal/runtime"
	configpkg "github.com/cosmic-horizons/eventbus/internal/runtime/config"
	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	handlerpkg "github.com/cosmic-horizons/eventbus/internal/runtime/handlers"
	idspkg "github.com/cosmic-horizons/eventbus/internal/runtime/ids"
	"github.com/cosmic-horizons/eventbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/schema"
	"github.com/cosmic-horizons/eventbus/internal/runtime/topology"
	"github.com/cosmic-horizons/eventbus/transport"

	// Register the built-in transports with the default registry.
	_ "github.com/cosmic-horizons/eventbus/transport/transports"
)

type (
	Config          = configpkg.Config
	BrokerConfig    = configpkg.BrokerConfig
	LogConfig       = configpkg.LogConfig
	BroadcastConfig = configpkg.BroadcastConfig
	MetricsConfig   = configpkg.MetricsConfig

	Bus             = runtimepkg.Bus
	BusDependencies = runtimepkg.BusDependencies

	Envelope       = envelope.Envelope
	EnvelopeOption = envelope.Option
	Payload        = envelope.Payload
	JobStatus      = envelope.JobStatus

	JobSubmitted        = envelope.JobSubmitted
	JobStatusChanged    = envelope.JobStatusChanged
	JobCompleted        = envelope.JobCompleted
	JobFailed           = envelope.JobFailed
	JobCancelled        = envelope.JobCancelled
	JobMetricsRecorded  = envelope.JobMetricsRecorded
	NotificationSent    = envelope.NotificationSent
	AlertRaised         = envelope.AlertRaised
	SystemHealthCheck   = envelope.SystemHealthCheck
	AuditActionRecorded = envelope.AuditActionRecorded
	JobResult           = envelope.JobResult
	JobFailure          = envelope.JobFailure
	ResourceRequest     = envelope.ResourceRequest

	Publisher        = runtimepkg.Publisher
	PublishOptions   = runtimepkg.PublishOptions
	Consumer         = runtimepkg.Consumer
	ConsumeOptions   = runtimepkg.ConsumeOptions
	Handler          = runtimepkg.Handler
	Middleware       = runtimepkg.Middleware
	RetryConfig      = runtimepkg.RetryConfig
	DeadLetterRouter = runtimepkg.DeadLetterRouter
	DeadLetterRecord = runtimepkg.DeadLetterRecord
	JobEventEmitter  = runtimepkg.JobEventEmitter
	StatusDetails    = runtimepkg.StatusDetails
	EventLog         = runtimepkg.EventLog
	Validator        = runtimepkg.Validator
	Violation        = runtimepkg.Violation

	Delivery = transport.Delivery

	EnvelopeContext                  = handlerpkg.EnvelopeContext
	EnvelopeHandler                  = handlerpkg.EnvelopeHandler
	EventContext[T envelope.Payload] = handlerpkg.EventContext[T]
	EventHandler[T envelope.Payload] = handlerpkg.EventHandler[T]
	MessageContextBase               = handlerpkg.MessageContextBase
	UnprocessableEventError          = handlerpkg.UnprocessableEventError

	DeliveryContext   = runtimepkg.DeliveryContext
	DeliveryHooks     = runtimepkg.DeliveryHooks
	HandlerPanicError = runtimepkg.HandlerPanicError

	Metrics            = runtimepkg.Metrics
	DLQMetrics         = runtimepkg.DLQMetrics
	DLQSourceMetrics   = runtimepkg.DLQSourceMetrics
	DLQMetricsSnapshot = runtimepkg.DLQMetricsSnapshot
	ConsumerStats      = runtimepkg.ConsumerStats
	StatsSnapshot      = runtimepkg.StatsSnapshot
	SourceStats        = runtimepkg.SourceStats
	ErrorClassifier    = runtimepkg.ErrorClassifier
	ErrorCategory      = runtimepkg.ErrorCategory

	SchemaRegistry   = schema.Registry
	ValidationError  = schema.ValidationError
	ValidationErrors = schema.ValidationErrors

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportRegistry     = transport.Registry
	TransportBuilder      = transport.Builder
	TransportCapabilities = transport.Capabilities
)

var (
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig
	NewBus         = runtimepkg.NewBus

	NewEnvelope        = envelope.New
	WithEventID        = envelope.WithEventID
	WithCorrelationID  = envelope.WithCorrelationID
	WithUserID         = envelope.WithUserID
	WithSchemaVersion  = envelope.WithSchemaVersion
	WithParent         = envelope.WithParent
	WithTags           = envelope.WithTags
	WithIdempotencyKey = envelope.WithIdempotencyKey

	NewPublisher        = runtimepkg.NewPublisher
	NewConsumer         = runtimepkg.NewConsumer
	NewDeadLetterRouter = runtimepkg.NewDeadLetterRouter
	NewJobEventEmitter  = runtimepkg.NewJobEventEmitter
	NewEventLog         = runtimepkg.NewEventLog
	Persistent          = runtimepkg.Persistent

	Chain                   = runtimepkg.Chain
	AckOnSuccess            = runtimepkg.AckOnSuccess
	RetryOrDeadLetter       = runtimepkg.RetryOrDeadLetter
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TimeoutMiddleware       = runtimepkg.TimeoutMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	VerifyOrdering      = runtimepkg.VerifyOrdering
	VerifyOrderingByKey = runtimepkg.VerifyOrderingByKey
	OrderingViolations  = runtimepkg.OrderingViolations

	NewDLQMetrics          = runtimepkg.NewDLQMetrics
	NewConsumerStats       = runtimepkg.NewConsumerStats
	DefaultErrorClassifier = runtimepkg.DefaultErrorClassifier
	StatsHandler           = runtimepkg.StatsHandler

	DefaultSchemaRegistry = schema.Default
	NewSchemaRegistry     = schema.NewRegistry

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	CreateULID = idspkg.CreateULID

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register

	ErrNotConnected             = errspkg.ErrNotConnected
	ErrDisconnected             = errspkg.ErrDisconnected
	ErrDestinationRequired      = errspkg.ErrDestinationRequired
	ErrSourceRequired           = errspkg.ErrSourceRequired
	ErrHandlerRequired          = errspkg.ErrHandlerRequired
	ErrPublisherRequired        = errspkg.ErrPublisherRequired
	ErrConsumerRequired         = errspkg.ErrConsumerRequired
	ErrUnknownEventType         = errspkg.ErrUnknownEventType
	ErrInvalidPayload           = errspkg.ErrInvalidPayload
	ErrUnknownTopic             = errspkg.ErrUnknownTopic
	ErrDeliverySettled          = errspkg.ErrDeliverySettled
	ErrPublishNotConfirmed      = errspkg.ErrPublishNotConfirmed
	ErrUnsupportedSchemaVersion = errspkg.ErrUnsupportedSchemaVersion
)

// Event types.
const (
	TypeJobSubmitted        = envelope.TypeJobSubmitted
	TypeJobStatusChanged    = envelope.TypeJobStatusChanged
	TypeJobCompleted        = envelope.TypeJobCompleted
	TypeJobFailed           = envelope.TypeJobFailed
	TypeJobCancelled        = envelope.TypeJobCancelled
	TypeJobMetricsRecorded  = envelope.TypeJobMetricsRecorded
	TypeNotificationSent    = envelope.TypeNotificationSent
	TypeAlertRaised         = envelope.TypeAlertRaised
	TypeSystemHealthCheck   = envelope.TypeSystemHealthCheck
	TypeAuditActionRecorded = envelope.TypeAuditActionRecorded
)

const (
	StatusQueued    = envelope.StatusQueued
	StatusRunning   = envelope.StatusRunning
	StatusCompleted = envelope.StatusCompleted
	StatusFailed    = envelope.StatusFailed
	StatusCancelled = envelope.StatusCancelled
)

// Broker exchanges, queues and routing keys.
const (
	JobsExchange       = topology.JobsExchange
	EventsFanout       = topology.EventsFanout
	DeadLetterExchange = topology.DeadLetterExchange
	JobsQueue          = topology.JobsQueue
	BroadcastQueue     = topology.BroadcastQueue
	JobsDLQ            = topology.JobsDLQ
	DeadLetterKey      = topology.DeadLetterKey

	RouteJobSubmitted = topology.RouteJobSubmitted
	RouteJobStatus    = topology.RouteJobStatus
	RouteJobCompleted = topology.RouteJobCompleted
	RouteJobError     = topology.RouteJobError
)

// Durable log topics.
const (
	TopicJobLifecycle  = topology.TopicJobLifecycle
	TopicJobMetrics    = topology.TopicJobMetrics
	TopicNotifications = topology.TopicNotifications
	TopicAuditTrail    = topology.TopicAuditTrail
	TopicSystemHealth  = topology.TopicSystemHealth
)

// Standard header keys.
const (
	HeaderMessageID     = metadatapkg.MessageID
	HeaderCorrelationID = metadatapkg.CorrelationID
	HeaderRetryCount    = metadatapkg.RetryCount
	HeaderTraceID       = metadatapkg.TraceID
	HeaderSpanID        = metadatapkg.SpanID
	HeaderTimestamp     = metadatapkg.Timestamp
)

const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// ConsumeEvents subscribes handler to opts.Source for one payload variant.
func ConsumeEvents[T envelope.Payload](ctx context.Context, c *Consumer, handler EventHandler[T], opts ConsumeOptions, mws ...Middleware) (string, error) {
	return runtimepkg.ConsumeEvents(ctx, c, handler, opts, mws...)
}
