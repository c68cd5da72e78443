package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/queue"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

const tracerName = "payment-event-dispatcher"

// ErrNoRetryAttemptsLeft is returned when the retry budget is exhausted.
// Nothing is appended or enqueued in that case.
var ErrNoRetryAttemptsLeft = errors.New("no retry attempts left")

// Service schedules one retry round for a failed operation: it appends the
// retry event, overwrites the view with the retry-pending status, and
// enqueues a delayed redelivery. The delay grows linearly with the attempt
// number.
type Service struct {
	events      store.EventStore
	views       store.ViewStore
	retryQueue  queue.DelayedQueue
	factory     transaction.EventFactory
	logger      *zap.SugaredLogger
	retryOffset time.Duration
	maxAttempts int

	// Per-operation specialization.
	eventCode     transaction.EventCode
	pendingStatus transaction.Status
}

// NewRefundRetryService builds the orchestrator for failed refunds: retry
// events are refund-retried and the view parks on REFUND_ERROR between
// attempts.
func NewRefundRetryService(events store.EventStore, views store.ViewStore, retryQueue queue.DelayedQueue, settings config.RetrySettings, logger *zap.SugaredLogger) *Service {
	return newService(events, views, retryQueue, settings, logger,
		transaction.EventRefundRetried, transaction.StatusRefundError)
}

// NewAuthorizationStateRetryService builds the orchestrator for undecided
// authorization state queries: the view stays on AUTHORIZATION_REQUESTED
// between attempts.
func NewAuthorizationStateRetryService(events store.EventStore, views store.ViewStore, retryQueue queue.DelayedQueue, settings config.RetrySettings, logger *zap.SugaredLogger) *Service {
	return newService(events, views, retryQueue, settings, logger,
		transaction.EventAuthorizationRetried, transaction.StatusAuthorizationRequested)
}

func newService(events store.EventStore, views store.ViewStore, retryQueue queue.DelayedQueue, settings config.RetrySettings, logger *zap.SugaredLogger, code transaction.EventCode, pending transaction.Status) *Service {
	return &Service{
		events:        events,
		views:         views,
		retryQueue:    retryQueue,
		factory:       transaction.NewEventFactory(),
		logger:        logger,
		retryOffset:   settings.RetryOffset,
		maxAttempts:   settings.MaxAttempts,
		eventCode:     code,
		pendingStatus: pending,
	}
}

// WithEventFactory swaps the event factory, for deterministic ids and
// timestamps in tests.
func (s *Service) WithEventFactory(factory transaction.EventFactory) *Service {
	s.factory = factory
	return s
}

// EnqueueRetry schedules attempt retriedCount+1 for the transaction. When the
// budget is exhausted it returns ErrNoRetryAttemptsLeft without touching the
// log, the view or the queue.
func (s *Service) EnqueueRetry(ctx context.Context, tx transaction.Transaction, retriedCount int) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Retry.EnqueueRetry",
		trace.WithAttributes(
			attribute.String("transaction.id", tx.TransactionID()),
			attribute.String("retry.event_code", string(s.eventCode)),
			attribute.Int("retry.previous_attempts", retriedCount),
		),
	)
	defer span.End()

	retryCount := retriedCount + 1
	if retryCount > s.maxAttempts {
		span.SetAttributes(attribute.Bool("retry.exhausted", true))
		return fmt.Errorf("%w: attempt %d exceeds maximum %d for transaction %s",
			ErrNoRetryAttemptsLeft, retryCount, s.maxAttempts, tx.TransactionID())
	}

	event, err := s.factory.Build(tx.TransactionID(), s.eventCode, transaction.RetriedData{RetryCount: retryCount})
	if err != nil {
		return err
	}
	if err := s.events.Append(ctx, event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append retry event: %w", err)
	}

	if err := s.projectView(ctx, tx); err != nil {
		span.RecordError(err)
		return err
	}

	payload, err := queue.NewEnvelope(ctx, event).Marshal()
	if err != nil {
		return err
	}
	delay := s.retryOffset * time.Duration(retryCount)
	if err := s.retryQueue.Send(ctx, payload, delay); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to enqueue retry message: %w", err)
	}

	s.logger.Infow("Scheduled retry",
		"transactionId", tx.TransactionID(),
		"eventCode", s.eventCode,
		"retryCount", retryCount,
		"visibilityDelay", delay,
	)
	return nil
}

func (s *Service) projectView(ctx context.Context, tx transaction.Transaction) error {
	view, err := s.views.FindByTransactionID(ctx, tx.TransactionID())
	switch {
	case err == nil:
		view.Status = s.pendingStatus
	case errors.Is(err, store.ErrViewNotFound):
		view = store.NewTransactionView(tx, s.pendingStatus)
	default:
		return fmt.Errorf("failed to load transaction view: %w", err)
	}
	if err := s.views.Upsert(ctx, view); err != nil {
		return fmt.Errorf("failed to project transaction view: %w", err)
	}
	return nil
}
