package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// RefundConsumer handles transactions to refund. Its messages arrive only
// when a transaction is stuck in REFUND_REQUESTED and needs to be reverted.
type RefundConsumer struct {
	store   *transactionStore
	refunds *refundStep
	logger  *zap.SugaredLogger
}

func NewRefundConsumer(events store.EventStore, views store.ViewStore, gatewayClient gateway.Client, refundRetries *retry.Service, logger *zap.SugaredLogger) *RefundConsumer {
	txStore := newTransactionStore(events, views, logger)
	return &RefundConsumer{
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

func (c *RefundConsumer) Name() string { return "transaction-refund" }

func (c *RefundConsumer) AcceptedEvents() []transaction.EventCode {
	return []transaction.EventCode{transaction.EventExpired, transaction.EventRefundRetried}
}

func (c *RefundConsumer) Process(ctx context.Context, event transaction.Event) error {
	tx, err := c.store.load(ctx, event.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status() != transaction.StatusRefundRequested {
		c.logger.Infow("Transaction has no pending refund request, nothing to do",
			"transactionId", event.TransactionID,
			"status", tx.Status(),
		)
		return nil
	}

	c.logger.Infow("Handling refund request", "transactionId", tx.TransactionID())
	return c.refunds.run(ctx, tx, transaction.RefundRetryCount(tx))
}
