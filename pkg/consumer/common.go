package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// transactionStore bundles the event log and view every workflow writes to,
// enforcing the append-then-project order.
type transactionStore struct {
	events  store.EventStore
	views   store.ViewStore
	factory transaction.EventFactory
	logger  *zap.SugaredLogger
}

func newTransactionStore(events store.EventStore, views store.ViewStore, logger *zap.SugaredLogger) *transactionStore {
	return &transactionStore{
		events:  events,
		views:   views,
		factory: transaction.NewEventFactory(),
		logger:  logger,
	}
}

// load rebuilds the aggregate from the event log. A log that cannot be
// folded is a poison state, not a transient failure.
func (s *transactionStore) load(ctx context.Context, transactionID string) (transaction.Transaction, error) {
	events, err := s.events.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for transaction %s: %w", transactionID, err)
	}
	tx, err := transaction.Reduce(events)
	if err != nil {
		return nil, markProcessing(err)
	}
	return tx, nil
}

// appendAndProject appends the event, then overwrites the view status.
func (s *transactionStore) appendAndProject(ctx context.Context, tx transaction.Transaction, event transaction.Event, status transaction.Status) error {
	if err := s.events.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s for transaction %s: %w", event.EventCode, tx.TransactionID(), err)
	}
	if err := s.views.Upsert(ctx, store.NewTransactionView(tx, status)); err != nil {
		return fmt.Errorf("failed to project view for transaction %s: %w", tx.TransactionID(), err)
	}
	s.logger.Infow("Updated transaction",
		"transactionId", tx.TransactionID(),
		"eventCode", event.EventCode,
		"status", status,
	)
	return nil
}

func (s *transactionStore) markExpired(ctx context.Context, tx transaction.Transaction, refundable bool) error {
	event, err := s.factory.Build(tx.TransactionID(), transaction.EventExpired,
		transaction.ExpiredData{StatusBeforeExpiration: tx.Status()})
	if err != nil {
		return markProcessing(err)
	}
	return s.appendAndProject(ctx, tx, event, transaction.ExpiredStatus(refundable))
}

func (s *transactionStore) markRefundRequested(ctx context.Context, tx transaction.Transaction) error {
	return s.markWithRefundEvent(ctx, tx, transaction.EventRefundRequested, transaction.StatusRefundRequested)
}

func (s *transactionStore) markRefundError(ctx context.Context, tx transaction.Transaction) error {
	return s.markWithRefundEvent(ctx, tx, transaction.EventRefundError, transaction.StatusRefundError)
}

func (s *transactionStore) markRefunded(ctx context.Context, tx transaction.Transaction) error {
	return s.markWithRefundEvent(ctx, tx, transaction.EventRefunded, transaction.StatusRefunded)
}

func (s *transactionStore) markWithRefundEvent(ctx context.Context, tx transaction.Transaction, code transaction.EventCode, status transaction.Status) error {
	event, err := s.factory.Build(tx.TransactionID(), code,
		transaction.RefundData{StatusBeforeRefund: tx.Status()})
	if err != nil {
		return markProcessing(err)
	}
	return s.appendAndProject(ctx, tx, event, status)
}

// refundStep runs one refund attempt against the gateway and settles the
// outcome: refunded on OK, refund-error plus a scheduled retry otherwise.
type refundStep struct {
	store   *transactionStore
	gateway gateway.Client
	retries *retry.Service
	logger  *zap.SugaredLogger
}

func (r *refundStep) run(ctx context.Context, tx transaction.Transaction, retriedCount int) error {
	auth, ok := transaction.RequestedAuthorization(tx)
	if !ok {
		return markProcessing(fmt.Errorf("transaction %s has no authorization request data to refund", tx.TransactionID()))
	}

	outcome, err := r.gateway.RequestRefund(ctx, auth.AuthorizationRequestID)
	if err == nil && outcome == gateway.RefundOutcomeOK {
		r.logger.Infow("Refund completed",
			"transactionId", tx.TransactionID(),
			"authorizationRequestId", auth.AuthorizationRequestID,
		)
		return r.store.markRefunded(ctx, tx)
	}
	if err == nil {
		err = fmt.Errorf("gateway declined refund with outcome %s", outcome)
	}
	r.logger.Errorw("Refund attempt failed",
		"transactionId", tx.TransactionID(),
		"authorizationRequestId", auth.AuthorizationRequestID,
		"error", err,
	)

	if markErr := r.store.markRefundError(ctx, tx); markErr != nil {
		return markErr
	}
	if retryErr := r.retries.EnqueueRetry(ctx, tx, retriedCount); retryErr != nil {
		if errors.Is(retryErr, retry.ErrNoRetryAttemptsLeft) {
			return fmt.Errorf("refund failed for transaction %s: %w", tx.TransactionID(), retryErr)
		}
		return retryErr
	}
	return nil
}
