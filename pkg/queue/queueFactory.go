package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
)

// NewDelayedQueue builds the delayed queue for queueName on the configured
// transport.
func NewDelayedQueue(ctx context.Context, settings *config.QueueSettings, queueName string, logger *zap.SugaredLogger) (DelayedQueue, error) {
	switch settings.Type {
	case "rabbitmq":
		return NewRabbitMqDelayedQueue(settings, queueName, logger)
	case "gcp-pubsub":
		return NewPubSubDelayedQueue(ctx, settings, queueName)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", settings.Type)
	}
}

// NewDeadLetterSink builds the dead-letter sink on the configured transport.
func NewDeadLetterSink(ctx context.Context, settings *config.QueueSettings, logger *zap.SugaredLogger) (DeadLetterSink, error) {
	switch settings.Type {
	case "rabbitmq":
		return NewRabbitMqDeadLetterSink(settings, logger)
	case "gcp-pubsub":
		return NewPubSubDeadLetterSink(ctx, settings)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", settings.Type)
	}
}
