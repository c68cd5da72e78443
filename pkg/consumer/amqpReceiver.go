package consumer

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
)

// deliveryCheckpointer settles one AMQP delivery. Failure requeues so the
// broker redelivers.
type deliveryCheckpointer struct {
	delivery amqp.Delivery
}

func (c deliveryCheckpointer) Success() error { return c.delivery.Ack(false) }
func (c deliveryCheckpointer) Failure() error { return c.delivery.Nack(false, true) }

// Receiver consumes the configured queues and runs each delivery through its
// consumer's pipeline.
type Receiver struct {
	conn     *amqp.Connection
	logger   *zap.SugaredLogger
	bindings []binding
}

type binding struct {
	queueName string
	pipeline  *Pipeline
}

// NewReceiver opens the AMQP connection the receiver consumes from.
func NewReceiver(settings *config.QueueSettings, logger *zap.SugaredLogger) (*Receiver, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return &Receiver{conn: conn, logger: logger}, nil
}

// Bind attaches a pipeline to a queue. All bindings must be registered
// before Run.
func (r *Receiver) Bind(queueName string, pipeline *Pipeline) {
	r.bindings = append(r.bindings, binding{queueName: queueName, pipeline: pipeline})
}

// Run consumes every bound queue until the context is canceled or the
// connection drops.
func (r *Receiver) Run(ctx context.Context) error {
	errs := make(chan error, len(r.bindings))
	for _, b := range r.bindings {
		go func(b binding) {
			errs <- r.consume(ctx, b)
		}(b)
	}

	connClosed := r.conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-connClosed:
		return fmt.Errorf("RabbitMQ connection closed: %w", err)
	case err := <-errs:
		return err
	}
}

func (r *Receiver) consume(ctx context.Context, b binding) error {
	channel, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for queue %s: %w", b.queueName, err)
	}
	if _, err := channel.QueueDeclare(b.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", b.queueName, err)
	}
	deliveries, err := channel.Consume(b.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", b.queueName, err)
	}

	r.logger.Infow("Consuming queue", "queue", b.queueName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for queue %s closed", b.queueName)
			}
			if err := b.pipeline.Handle(ctx, delivery.Body, deliveryCheckpointer{delivery: delivery}); err != nil {
				r.logger.Errorw("Message handling failed",
					"queue", b.queueName,
					"error", err,
				)
			}
		}
	}
}

// Close shuts the receiver's connection down, stopping all consumers.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
