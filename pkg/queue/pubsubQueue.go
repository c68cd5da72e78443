package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
)

// Attribute keys on Pub/Sub messages.
const (
	attrVisibilityDelay = "visibilityDelaySeconds"
	attrErrorCategory   = "errorCategory"
	attrTransactionID   = "transactionId"
	attrEventCode       = "eventCode"
	attrTimeToLive      = "ttlSeconds"
)

// PubSubDelayedQueueCreator defines a function type for creating Pub/Sub delayed queues.
type PubSubDelayedQueueCreator func(ctx context.Context, settings *config.QueueSettings, topic string, opts ...option.ClientOption) (DelayedQueue, error)

// NewPubSubDelayedQueue is the default implementation of PubSubDelayedQueueCreator.
// Pub/Sub has no native per-message visibility delay; the delay travels as a
// message attribute honored by the subscriber.
var NewPubSubDelayedQueue PubSubDelayedQueueCreator = func(ctx context.Context, settings *config.QueueSettings, topic string, opts ...option.ClientOption) (DelayedQueue, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubDelayedQueue{client: client, topic: topic}, nil
}

type pubSubDelayedQueue struct {
	client *pubsub.Client
	topic  string
}

func (p *pubSubDelayedQueue) Send(ctx context.Context, payload []byte, visibilityDelay time.Duration) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DelayedQueue.Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic),
		),
	)
	defer span.End()

	// Inject the trace context into the message attributes
	attributes := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))
	if visibilityDelay > 0 {
		attributes[attrVisibilityDelay] = strconv.FormatInt(int64(visibilityDelay.Seconds()), 10)
	}

	topic := p.client.Topic(p.topic)
	topic.EnableMessageOrdering = true
	res := topic.Publish(ctx, &pubsub.Message{
		Data:        payload,
		Attributes:  attributes,
		OrderingKey: orderingKey(payload),
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)
	return nil
}

func (p *pubSubDelayedQueue) Close() error {
	return p.client.Close()
}

// orderingKey extracts the transaction id from the envelope so deliveries for
// the same transaction stay ordered. An unparsable payload gets no key.
func orderingKey(payload []byte) string {
	var envelope struct {
		Event struct {
			TransactionID string `json:"transactionId"`
		} `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.Event.TransactionID
}

// PubSubDeadLetterSinkCreator defines a function type for creating Pub/Sub dead-letter sinks.
type PubSubDeadLetterSinkCreator func(ctx context.Context, settings *config.QueueSettings, opts ...option.ClientOption) (DeadLetterSink, error)

// NewPubSubDeadLetterSink is the default implementation of PubSubDeadLetterSinkCreator.
var NewPubSubDeadLetterSink PubSubDeadLetterSinkCreator = func(ctx context.Context, settings *config.QueueSettings, opts ...option.ClientOption) (DeadLetterSink, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubDeadLetterSink{client: client, topic: settings.DeadLetterQueue, ttl: settings.DeadLetterTTL}, nil
}

type pubSubDeadLetterSink struct {
	client *pubsub.Client
	topic  string
	ttl    time.Duration
}

func (p *pubSubDeadLetterSink) Send(ctx context.Context, payload []byte, errCtx ErrorContext) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DeadLetterSink.Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKey.String(p.topic),
			attribute.String("deadletter.error_category", string(errCtx.Category)),
		),
	)
	defer span.End()

	attributes := map[string]string{
		attrErrorCategory: string(errCtx.Category),
	}
	if errCtx.TransactionID != "" {
		attributes[attrTransactionID] = errCtx.TransactionID
	}
	if errCtx.EventCode != "" {
		attributes[attrEventCode] = errCtx.EventCode
	}
	if p.ttl > 0 {
		attributes[attrTimeToLive] = strconv.FormatInt(int64(p.ttl.Seconds()), 10)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))

	res := p.client.Topic(p.topic).Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})
	if _, err := res.Get(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (p *pubSubDeadLetterSink) Close() error {
	return p.client.Close()
}
