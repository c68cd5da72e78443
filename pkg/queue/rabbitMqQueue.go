package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
)

const tracerName = "payment-event-dispatcher"

// Header keys carrying the dead-letter error context.
const (
	headerErrorCategory = "x-error-category"
	headerTransactionID = "x-transaction-id"
	headerEventCode     = "x-event-code"
)

// RabbitMQDelayedQueueCreator defines a function type for creating RabbitMQ delayed queues.
type RabbitMQDelayedQueueCreator func(settings *config.QueueSettings, queueName string, logger *zap.SugaredLogger) (DelayedQueue, error)

// NewRabbitMqDelayedQueue builds a delayed queue on RabbitMQ. Delay is
// implemented with a wait queue: messages are published with a per-message
// TTL and the wait queue dead-letters expired messages into the work queue.
var NewRabbitMqDelayedQueue RabbitMQDelayedQueueCreator = func(settings *config.QueueSettings, queueName string, logger *zap.SugaredLogger) (DelayedQueue, error) {
	client, err := newRabbitMqClient(settings, logger)
	if err != nil {
		return nil, err
	}

	q := &rabbitMqDelayedQueue{client: client, queueName: queueName}
	if err := q.declareQueues(); err != nil {
		client.close()
		return nil, err
	}
	return q, nil
}

type rabbitMqDelayedQueue struct {
	client    *rabbitMqClient
	queueName string
}

func (q *rabbitMqDelayedQueue) waitQueueName() string { return q.queueName + ".wait" }

func (q *rabbitMqDelayedQueue) declareQueues() error {
	pooledChan, err := q.client.getChannel()
	if err != nil {
		return err
	}
	defer q.client.releaseChannel(pooledChan)

	// QueueDeclare is idempotent and has no effect if the queue is already in place
	if _, err := pooledChan.channel.QueueDeclare(q.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.queueName, err)
	}
	_, err = pooledChan.channel.QueueDeclare(q.waitQueueName(), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.queueName,
	})
	if err != nil {
		return fmt.Errorf("failed to declare wait queue %s: %w", q.waitQueueName(), err)
	}
	return nil
}

func (q *rabbitMqDelayedQueue) Send(ctx context.Context, payload []byte, visibilityDelay time.Duration) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DelayedQueue.Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(q.queueName),
			attribute.Float64("messaging.visibility_delay_seconds", visibilityDelay.Seconds()),
		),
	)
	defer span.End()

	// Inject the trace context into the message headers
	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))
	amqpHeaders := make(amqp.Table, len(traceHeaders))
	for k, v := range traceHeaders {
		amqpHeaders[k] = v
	}

	pooledChan, err := q.client.getChannel()
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer q.client.releaseChannel(pooledChan)

	destination := q.queueName
	publishing := amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Headers:     amqpHeaders,
	}
	if visibilityDelay > 0 {
		destination = q.waitQueueName()
		publishing.Expiration = strconv.FormatInt(visibilityDelay.Milliseconds(), 10)
	}

	if err := pooledChan.channel.Publish("", destination, false, false, publishing); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)
	return nil
}

func (q *rabbitMqDelayedQueue) Close() error {
	return q.client.close()
}

// RabbitMQDeadLetterSinkCreator defines a function type for creating RabbitMQ dead-letter sinks.
type RabbitMQDeadLetterSinkCreator func(settings *config.QueueSettings, logger *zap.SugaredLogger) (DeadLetterSink, error)

// NewRabbitMqDeadLetterSink builds a dead-letter sink publishing to the
// configured dead-letter queue with the configured TTL.
var NewRabbitMqDeadLetterSink RabbitMQDeadLetterSinkCreator = func(settings *config.QueueSettings, logger *zap.SugaredLogger) (DeadLetterSink, error) {
	client, err := newRabbitMqClient(settings, logger)
	if err != nil {
		return nil, err
	}

	sink := &rabbitMqDeadLetterSink{
		client:    client,
		queueName: settings.DeadLetterQueue,
		ttl:       settings.DeadLetterTTL,
	}

	pooledChan, err := client.getChannel()
	if err != nil {
		client.close()
		return nil, err
	}
	defer client.releaseChannel(pooledChan)
	if _, err := pooledChan.channel.QueueDeclare(sink.queueName, true, false, false, false, nil); err != nil {
		client.close()
		return nil, fmt.Errorf("failed to declare dead-letter queue %s: %w", sink.queueName, err)
	}

	return sink, nil
}

type rabbitMqDeadLetterSink struct {
	client    *rabbitMqClient
	queueName string
	ttl       time.Duration
}

func (s *rabbitMqDeadLetterSink) Send(ctx context.Context, payload []byte, errCtx ErrorContext) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DeadLetterSink.Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(s.queueName),
			attribute.String("deadletter.error_category", string(errCtx.Category)),
		),
	)
	defer span.End()

	headers := amqp.Table{
		headerErrorCategory: string(errCtx.Category),
	}
	if errCtx.TransactionID != "" {
		headers[headerTransactionID] = errCtx.TransactionID
	}
	if errCtx.EventCode != "" {
		headers[headerEventCode] = errCtx.EventCode
	}

	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))
	for k, v := range traceHeaders {
		headers[k] = v
	}

	pooledChan, err := s.client.getChannel()
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer s.client.releaseChannel(pooledChan)

	publishing := amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Headers:     headers,
	}
	if s.ttl > 0 {
		publishing.Expiration = strconv.FormatInt(s.ttl.Milliseconds(), 10)
	}

	if err := pooledChan.channel.Publish("", s.queueName, false, false, publishing); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *rabbitMqDeadLetterSink) Close() error {
	return s.client.close()
}
