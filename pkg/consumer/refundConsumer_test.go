package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

func refundableEvents(t *testing.T, factory transaction.EventFactory) []transaction.Event {
	t.Helper()
	return []transaction.Event{
		buildEvent(t, factory, "tx-1", transaction.EventActivated, transaction.ActivationData{Email: "user@example.com"}),
		buildEvent(t, factory, "tx-1", transaction.EventAuthorizationRequested, transaction.AuthorizationRequestData{
			AuthorizationRequestID: "auth-1",
		}),
		buildEvent(t, factory, "tx-1", transaction.EventExpired, transaction.ExpiredData{
			StatusBeforeExpiration: transaction.StatusAuthorizationRequested,
		}),
		buildEvent(t, factory, "tx-1", transaction.EventRefundRequested, transaction.RefundData{
			StatusBeforeRefund: transaction.StatusExpired,
		}),
	}
}

func newRefundFixture(t *testing.T, events *fakeEventStore, gw *fakeGateway) (*RefundConsumer, *fakeViewStore, *fakeDelayedQueue) {
	t.Helper()
	views := &fakeViewStore{}
	retryQueue := &fakeDelayedQueue{}
	retries := retry.NewRefundRetryService(events, views, retryQueue, config.RetrySettings{
		MaxAttempts: 3,
		RetryOffset: 30 * time.Second,
	}, zap.NewNop().Sugar()).WithEventFactory(testEventFactory())

	consumer := NewRefundConsumer(events, views, gw, retries, zap.NewNop().Sugar())
	consumer.store.factory = testEventFactory()
	return consumer, views, retryQueue
}

func TestRefundCompletesOnGatewayOK(t *testing.T) {
	factory := testEventFactory()
	log := refundableEvents(t, factory)
	events := newFakeEventStore("tx-1", log...)
	gw := &fakeGateway{refundOutcome: gateway.RefundOutcomeOK}
	consumer, views, _ := newRefundFixture(t, events, gw)

	err := consumer.Process(context.Background(), log[2])
	require.NoError(t, err)

	assert.Equal(t, []transaction.EventCode{transaction.EventRefunded}, events.appendedCodes())
	assert.Equal(t, transaction.StatusRefunded, views.views["tx-1"].Status)
	assert.Equal(t, 1, gw.refundCalls)
}

func TestRefundIdempotentOnSecondDelivery(t *testing.T) {
	factory := testEventFactory()
	log := refundableEvents(t, factory)
	events := newFakeEventStore("tx-1", log...)
	gw := &fakeGateway{refundOutcome: gateway.RefundOutcomeOK}
	consumer, views, _ := newRefundFixture(t, events, gw)

	require.NoError(t, consumer.Process(context.Background(), log[2]))
	appendedAfterFirst := len(events.appended)
	upsertedAfterFirst := len(views.upserted)

	// Second delivery of the same message: the aggregate is already
	// refunded, so the precondition filter turns it into a no-op.
	require.NoError(t, consumer.Process(context.Background(), log[2]))

	assert.Equal(t, appendedAfterFirst, len(events.appended))
	assert.Equal(t, upsertedAfterFirst, len(views.upserted))
	assert.Equal(t, 1, gw.refundCalls)
}

func TestRefundNoOpWithoutPendingRequest(t *testing.T) {
	factory := testEventFactory()
	activated := buildEvent(t, factory, "tx-1", transaction.EventActivated, nil)
	events := newFakeEventStore("tx-1", activated)
	gw := &fakeGateway{}
	consumer, views, _ := newRefundFixture(t, events, gw)

	trigger := buildEvent(t, factory, "tx-1", transaction.EventExpired, nil)
	err := consumer.Process(context.Background(), trigger)
	require.NoError(t, err)

	assert.Empty(t, events.appendedCodes())
	assert.Empty(t, views.upserted)
	assert.Equal(t, 0, gw.refundCalls)
}
