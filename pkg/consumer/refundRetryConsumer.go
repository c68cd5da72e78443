package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// RefundRetryConsumer reruns the refund for transactions whose previous
// attempt failed. The retry counter travels in the message payload.
type RefundRetryConsumer struct {
	store   *transactionStore
	refunds *refundStep
	logger  *zap.SugaredLogger
}

func NewRefundRetryConsumer(events store.EventStore, views store.ViewStore, gatewayClient gateway.Client, refundRetries *retry.Service, logger *zap.SugaredLogger) *RefundRetryConsumer {
	txStore := newTransactionStore(events, views, logger)
	return &RefundRetryConsumer{
		store: txStore,
		refunds: &refundStep{
			store:   txStore,
			gateway: gatewayClient,
			retries: refundRetries,
			logger:  logger,
		},
		logger: logger,
	}
}

func (c *RefundRetryConsumer) Name() string { return "transaction-refund-retry" }

func (c *RefundRetryConsumer) AcceptedEvents() []transaction.EventCode {
	return []transaction.EventCode{transaction.EventRefundRetried}
}

func (c *RefundRetryConsumer) Process(ctx context.Context, event transaction.Event) error {
	count, err := retriedCount(event)
	if err != nil {
		return err
	}
	tx, err := c.store.load(ctx, event.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status() != transaction.StatusRefundError {
		c.logger.Infow("Transaction has no failed refund to retry, nothing to do",
			"transactionId", event.TransactionID,
			"status", tx.Status(),
		)
		return nil
	}

	c.logger.Infow("Retrying refund",
		"transactionId", tx.TransactionID(),
		"retryCount", count,
	)
	return c.refunds.run(ctx, tx, count)
}
