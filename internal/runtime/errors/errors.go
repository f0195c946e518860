package errors

import sterrors "errors"

var (
	ErrNotConnected             = sterrors.New("eventbus: connection not established")
	ErrNoBrokerURLs             = sterrors.New("eventbus: no broker urls configured")
	ErrDisconnected             = sterrors.New("eventbus: disconnected while connecting")
	ErrTransportRequired        = sterrors.New("eventbus: transport name is required")
	ErrDestinationRequired      = sterrors.New("eventbus: destination is required")
	ErrSourceRequired           = sterrors.New("eventbus: consume source is required")
	ErrEnvelopeRequired         = sterrors.New("eventbus: event envelope is required")
	ErrHandlerRequired          = sterrors.New("eventbus: handler function is required")
	ErrPublisherRequired        = sterrors.New("eventbus: publisher is required")
	ErrUnknownEventType         = sterrors.New("eventbus: unknown event type")
	ErrInvalidPayload           = sterrors.New("eventbus: payload does not match event type")
	ErrSchemaExists             = sterrors.New("eventbus: schema version already registered")
	ErrSchemaNotFound           = sterrors.New("eventbus: schema not registered")
	ErrUnsupportedSchemaVersion = sterrors.New("eventbus: schema version not accepted by consumer")
	ErrPublishNotConfirmed      = sterrors.New("eventbus: broker did not confirm publish")
	ErrUnknownTopic             = sterrors.New("eventbus: topic is not in the topic registry")
	ErrConsumerNotFound         = sterrors.New("eventbus: consumer tag not registered")
	ErrDeliverySettled          = sterrors.New("eventbus: delivery already acknowledged")
	ErrConfigRequired           = sterrors.New("eventbus: configuration is required")
	ErrConsumerRequired         = sterrors.New("eventbus: consumer is required")
)
