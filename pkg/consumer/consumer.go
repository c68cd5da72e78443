package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/queue"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

const tracerName = "payment-event-dispatcher"

// Checkpointer settles one delivery with the transport. Success removes the
// delivery from the queue; Failure returns it for redelivery.
type Checkpointer interface {
	Success() error
	Failure() error
}

// Consumer is one workflow bound to one queue. AcceptedEvents lists the
// event codes the consumer decodes, in priority order.
type Consumer interface {
	Name() string
	AcceptedEvents() []transaction.EventCode
	Process(ctx context.Context, event transaction.Event) error
}

// processingError marks a failure that must be dead-lettered rather than
// redelivered: reprocessing the same message would fail the same way.
// Infrastructure failures (store or queue writes) stay unmarked and propagate
// to the transport, which redelivers.
type processingError struct {
	err error
}

func (e *processingError) Error() string { return e.err.Error() }
func (e *processingError) Unwrap() error { return e.err }

func markProcessing(err error) error {
	return &processingError{err: err}
}

func isProcessingError(err error) bool {
	var pe *processingError
	return errors.As(err, &pe)
}

// Pipeline drives one consumer through the per-message contract: decode,
// checkpoint, process, and route failures to the dead-letter sink. A
// dead-letter write failure is the only error it lets escape unsettled.
type Pipeline struct {
	consumer   Consumer
	deadLetter queue.DeadLetterSink
	logger     *zap.SugaredLogger
}

// NewPipeline wires a consumer to the dead-letter sink.
func NewPipeline(consumer Consumer, deadLetter queue.DeadLetterSink, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{consumer: consumer, deadLetter: deadLetter, logger: logger}
}

// Handle processes one raw delivery. The returned error is non-nil only when
// the dead-letter write failed or an infrastructure write failed; both leave
// the delivery unacknowledged for the transport to redeliver.
func (p *Pipeline) Handle(ctx context.Context, payload []byte, cp Checkpointer) error {
	envelope, err := decodeEnvelope(payload, p.consumer.AcceptedEvents()...)
	if err != nil {
		p.logger.Errorw("Failed to decode message, routing to dead letter",
			"consumer", p.consumer.Name(),
			"error", err,
		)
		return p.deadLetterAndSettle(ctx, payload, cp, queue.ErrorContext{
			Category: queue.ErrorCategoryParsing,
		})
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(envelope.TracingInfo))
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, fmt.Sprintf("Consumer.%s", p.consumer.Name()),
		trace.WithAttributes(
			attribute.String("transaction.id", envelope.Event.TransactionID),
			attribute.String("transaction.event_code", string(envelope.Event.EventCode)),
		),
	)
	defer span.End()

	err = p.consumer.Process(ctx, envelope.Event)
	switch {
	case err == nil:
		return cp.Success()
	case errors.Is(err, retry.ErrNoRetryAttemptsLeft):
		// Retries exhausted: the transaction is parked in its error status
		// for out-of-band remediation. The message is consumed.
		p.logger.Errorw("Retry attempts exhausted, transaction stuck in error status",
			"consumer", p.consumer.Name(),
			"transactionId", envelope.Event.TransactionID,
			"error", err,
		)
		return cp.Success()
	case isProcessingError(err):
		span.RecordError(err)
		p.logger.Errorw("Failed to process message, routing to dead letter",
			"consumer", p.consumer.Name(),
			"transactionId", envelope.Event.TransactionID,
			"error", err,
		)
		return p.deadLetterAndSettle(ctx, payload, cp, queue.ErrorContext{
			TransactionID: envelope.Event.TransactionID,
			EventCode:     string(envelope.Event.EventCode),
			Category:      queue.ErrorCategoryProcessing,
		})
	default:
		// Infrastructure failure: leave the message to the transport.
		span.RecordError(err)
		p.logger.Warnw("Transient failure, message will be redelivered",
			"consumer", p.consumer.Name(),
			"transactionId", envelope.Event.TransactionID,
			"error", err,
		)
		if nackErr := cp.Failure(); nackErr != nil {
			p.logger.Errorw("Failed to return message to the queue", "error", nackErr)
		}
		return err
	}
}

func (p *Pipeline) deadLetterAndSettle(ctx context.Context, payload []byte, cp Checkpointer, errCtx queue.ErrorContext) error {
	if dlErr := p.deadLetter.Send(ctx, payload, errCtx); dlErr != nil {
		// No containment left: surface the failure and keep the delivery.
		if nackErr := cp.Failure(); nackErr != nil {
			p.logger.Errorw("Failed to return message to the queue", "error", nackErr)
		}
		return fmt.Errorf("dead letter write failed: %w", dlErr)
	}
	return cp.Success()
}
