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

// AuthorizationRequestedConsumer recovers transactions whose authorization
// outcome never arrived: it asks the gateway for the out-of-band state and
// reconciles the aggregate when the outcome is decided, rescheduling itself
// while the gateway is still undecided.
type AuthorizationRequestedConsumer struct {
	store   *transactionStore
	gateway gateway.Client
	retries *retry.Service
	logger  *zap.SugaredLogger
}

func NewAuthorizationRequestedConsumer(events store.EventStore, views store.ViewStore, gatewayClient gateway.Client, stateRetries *retry.Service, logger *zap.SugaredLogger) *AuthorizationRequestedConsumer {
	return &AuthorizationRequestedConsumer{
		store:   newTransactionStore(events, views, logger),
		gateway: gatewayClient,
		retries: stateRetries,
		logger:  logger,
	}
}

func (c *AuthorizationRequestedConsumer) Name() string { return "transaction-authorization-requested" }

func (c *AuthorizationRequestedConsumer) AcceptedEvents() []transaction.EventCode {
	return []transaction.EventCode{transaction.EventAuthorizationRequested, transaction.EventAuthorizationRetried}
}

func (c *AuthorizationRequestedConsumer) Process(ctx context.Context, event transaction.Event) error {
	count, err := retriedCount(event)
	if err != nil {
		return err
	}
	tx, err := c.store.load(ctx, event.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status() != transaction.StatusAuthorizationRequested {
		c.logger.Infow("Transaction is not in authorization requested status, no more action needed",
			"transactionId", event.TransactionID,
			"status", tx.Status(),
		)
		return nil
	}
	auth, ok := transaction.RequestedAuthorization(tx)
	if !ok {
		return markProcessing(fmt.Errorf("transaction %s in status %s carries no authorization request data", tx.TransactionID(), tx.Status()))
	}

	c.logger.Infow("Querying gateway for authorization state",
		"transactionId", tx.TransactionID(),
		"authorizationRequestId", auth.AuthorizationRequestID,
	)
	state, err := c.gateway.QueryAuthorizationState(ctx, auth.AuthorizationRequestID)
	if err != nil || !state.Decided {
		if err != nil {
			c.logger.Errorw("Authorization state query failed",
				"transactionId", tx.TransactionID(),
				"error", err,
			)
		} else {
			c.logger.Infow("Authorization outcome still undecided",
				"transactionId", tx.TransactionID(),
			)
		}
		if retryErr := c.retries.EnqueueRetry(ctx, tx, count); retryErr != nil {
			if errors.Is(retryErr, retry.ErrNoRetryAttemptsLeft) {
				return fmt.Errorf("authorization state recovery for transaction %s: %w", tx.TransactionID(), retryErr)
			}
			return retryErr
		}
		return nil
	}

	completed, err := c.store.factory.Build(tx.TransactionID(), transaction.EventAuthorizationCompleted,
		transaction.AuthorizationCompletedData{
			AuthorizationCode: state.AuthorizationCode,
			Outcome:           state.Outcome,
		})
	if err != nil {
		return markProcessing(err)
	}
	return c.store.appendAndProject(ctx, tx, completed, transaction.StatusAuthorizationCompleted)
}
