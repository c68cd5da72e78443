package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// ExpirationConsumer handles expiration of transactions stuck in a transient
// state and starts the refund for the ones that already engaged the gateway.
type ExpirationConsumer struct {
	store   *transactionStore
	refunds *refundStep
	logger  *zap.SugaredLogger
}

func NewExpirationConsumer(events store.EventStore, views store.ViewStore, gatewayClient gateway.Client, refundRetries *retry.Service, logger *zap.SugaredLogger) *ExpirationConsumer {
	txStore := newTransactionStore(events, views, logger)
	return &ExpirationConsumer{
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

func (c *ExpirationConsumer) Name() string { return "transaction-expiration" }

func (c *ExpirationConsumer) AcceptedEvents() []transaction.EventCode {
	return []transaction.EventCode{transaction.EventActivated, transaction.EventClosed}
}

func (c *ExpirationConsumer) Process(ctx context.Context, event transaction.Event) error {
	tx, err := c.store.load(ctx, event.TransactionID)
	if err != nil {
		return err
	}
	if !transaction.IsTransient(tx.Status()) {
		c.logger.Infow("Transaction is not in a transient status, nothing to expire",
			"transactionId", event.TransactionID,
			"status", tx.Status(),
		)
		return nil
	}

	refundable := transaction.IsRefundable(tx)
	c.logger.Infow("Expiring transaction",
		"transactionId", tx.TransactionID(),
		"status", tx.Status(),
		"refundable", refundable,
	)
	if err := c.store.markExpired(ctx, tx, refundable); err != nil {
		return err
	}
	if !refundable {
		return nil
	}
	if err := c.store.markRefundRequested(ctx, tx); err != nil {
		return err
	}
	return c.refunds.run(ctx, tx, 0)
}
