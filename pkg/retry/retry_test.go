package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

type fakeEventStore struct {
	appended []transaction.Event
	events   map[string][]transaction.Event
}

func (f *fakeEventStore) Append(ctx context.Context, event transaction.Event) error {
	f.appended = append(f.appended, event)
	return nil
}

func (f *fakeEventStore) FindByTransactionID(ctx context.Context, transactionID string) ([]transaction.Event, error) {
	return f.events[transactionID], nil
}

type fakeViewStore struct {
	views    map[string]store.TransactionView
	upserted []store.TransactionView
}

func (f *fakeViewStore) Upsert(ctx context.Context, view store.TransactionView) error {
	if f.views == nil {
		f.views = make(map[string]store.TransactionView)
	}
	f.views[view.TransactionID] = view
	f.upserted = append(f.upserted, view)
	return nil
}

func (f *fakeViewStore) FindByTransactionID(ctx context.Context, transactionID string) (store.TransactionView, error) {
	view, ok := f.views[transactionID]
	if !ok {
		return store.TransactionView{}, store.ErrViewNotFound
	}
	return view, nil
}

type sentMessage struct {
	payload []byte
	delay   time.Duration
}

type fakeDelayedQueue struct {
	sent []sentMessage
}

func (f *fakeDelayedQueue) Send(ctx context.Context, payload []byte, visibilityDelay time.Duration) error {
	f.sent = append(f.sent, sentMessage{payload: payload, delay: visibilityDelay})
	return nil
}

func (f *fakeDelayedQueue) Close() error { return nil }

func testFactory() transaction.EventFactory {
	n := 0
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return transaction.EventFactory{
		IDs: func() string {
			n++
			return fmt.Sprintf("event-%d", n)
		},
		Clock: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Second)
		},
	}
}

// refundErrorTransaction folds a transaction up to REFUND_ERROR.
func refundErrorTransaction(t *testing.T) transaction.Transaction {
	t.Helper()
	factory := testFactory()
	build := func(code transaction.EventCode, data any) transaction.Event {
		ev, err := factory.Build("tx-1", code, data)
		require.NoError(t, err)
		return ev
	}
	events := []transaction.Event{
		build(transaction.EventActivated, transaction.ActivationData{
			Email:    "user@example.com",
			ClientID: "CHECKOUT",
			PaymentNotices: []transaction.PaymentNotice{
				{PaymentToken: "token-1", NoticeID: "notice-1", Amount: 1000},
			},
		}),
		build(transaction.EventAuthorizationRequested, transaction.AuthorizationRequestData{
			Amount:                 1000,
			Fee:                    50,
			AuthorizationRequestID: "auth-1",
			PspID:                  "psp-1",
		}),
		build(transaction.EventExpired, transaction.ExpiredData{StatusBeforeExpiration: transaction.StatusAuthorizationRequested}),
		build(transaction.EventRefundRequested, transaction.RefundData{StatusBeforeRefund: transaction.StatusExpired}),
		build(transaction.EventRefundError, nil),
	}
	tx, err := transaction.Reduce(events)
	require.NoError(t, err)
	require.Equal(t, transaction.StatusRefundError, tx.Status())
	return tx
}

func TestEnqueueRetrySchedulesNextAttempt(t *testing.T) {
	events := &fakeEventStore{}
	views := &fakeViewStore{views: map[string]store.TransactionView{
		"tx-1": {TransactionID: "tx-1", Status: transaction.StatusRefundRequested},
	}}
	q := &fakeDelayedQueue{}
	svc := NewRefundRetryService(events, views, q, config.RetrySettings{
		MaxAttempts: 3,
		RetryOffset: 30 * time.Second,
	}, zap.NewNop().Sugar()).WithEventFactory(testFactory())

	tx := refundErrorTransaction(t)
	err := svc.EnqueueRetry(context.Background(), tx, 0)
	require.NoError(t, err)

	// Retry event appended with retryCount 1
	require.Len(t, events.appended, 1)
	appended := events.appended[0]
	assert.Equal(t, transaction.EventRefundRetried, appended.EventCode)
	assert.Equal(t, "tx-1", appended.TransactionID)
	var data transaction.RetriedData
	require.NoError(t, json.Unmarshal(appended.Data, &data))
	assert.Equal(t, 1, data.RetryCount)

	// View parked on the retry-pending status
	require.Len(t, views.upserted, 1)
	assert.Equal(t, transaction.StatusRefundError, views.upserted[0].Status)

	// Delayed message enqueued with delay retryOffset * 1
	require.Len(t, q.sent, 1)
	assert.Equal(t, 30*time.Second, q.sent[0].delay)
	assert.Contains(t, string(q.sent[0].payload), `"TRANSACTION_REFUND_RETRIED_EVENT"`)
}

func TestEnqueueRetryBackoffGrowsLinearly(t *testing.T) {
	tx := refundErrorTransaction(t)
	offset := 30 * time.Second

	q := &fakeDelayedQueue{}
	svc := NewRefundRetryService(&fakeEventStore{}, &fakeViewStore{}, q, config.RetrySettings{
		MaxAttempts: 5,
		RetryOffset: offset,
	}, zap.NewNop().Sugar()).WithEventFactory(testFactory())

	for retried := 0; retried < 3; retried++ {
		require.NoError(t, svc.EnqueueRetry(context.Background(), tx, retried))
	}

	require.Len(t, q.sent, 3)
	assert.Equal(t, 1*offset, q.sent[0].delay)
	assert.Equal(t, 2*offset, q.sent[1].delay)
	assert.Equal(t, 3*offset, q.sent[2].delay)
}

func TestEnqueueRetryExhaustedBudget(t *testing.T) {
	events := &fakeEventStore{}
	views := &fakeViewStore{}
	q := &fakeDelayedQueue{}
	svc := NewRefundRetryService(events, views, q, config.RetrySettings{
		MaxAttempts: 3,
		RetryOffset: 30 * time.Second,
	}, zap.NewNop().Sugar())

	tx := refundErrorTransaction(t)
	err := svc.EnqueueRetry(context.Background(), tx, 3)
	assert.ErrorIs(t, err, ErrNoRetryAttemptsLeft)

	// Nothing appended, projected or enqueued
	assert.Empty(t, events.appended)
	assert.Empty(t, views.upserted)
	assert.Empty(t, q.sent)
}

func TestEnqueueRetryProjectsMissingView(t *testing.T) {
	views := &fakeViewStore{}
	svc := NewAuthorizationStateRetryService(&fakeEventStore{}, views, &fakeDelayedQueue{}, config.RetrySettings{
		MaxAttempts: 3,
		RetryOffset: time.Minute,
	}, zap.NewNop().Sugar()).WithEventFactory(testFactory())

	tx := refundErrorTransaction(t)
	require.NoError(t, svc.EnqueueRetry(context.Background(), tx, 0))

	require.Len(t, views.upserted, 1)
	view := views.upserted[0]
	assert.Equal(t, tx.TransactionID(), view.TransactionID)
	assert.Equal(t, tx.Email(), view.Email)
	assert.Equal(t, transaction.StatusAuthorizationRequested, view.Status)
}
