package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/queue"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

type fakeEventStore struct {
	events   map[string][]transaction.Event
	appended []transaction.Event
}

func newFakeEventStore(transactionID string, events ...transaction.Event) *fakeEventStore {
	return &fakeEventStore{events: map[string][]transaction.Event{transactionID: events}}
}

func (f *fakeEventStore) Append(ctx context.Context, event transaction.Event) error {
	f.appended = append(f.appended, event)
	f.events[event.TransactionID] = append(f.events[event.TransactionID], event)
	return nil
}

func (f *fakeEventStore) FindByTransactionID(ctx context.Context, transactionID string) ([]transaction.Event, error) {
	return f.events[transactionID], nil
}

func (f *fakeEventStore) appendedCodes() []transaction.EventCode {
	codes := make([]transaction.EventCode, 0, len(f.appended))
	for _, ev := range f.appended {
		codes = append(codes, ev.EventCode)
	}
	return codes
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

type fakeDelayedQueue struct {
	sent    [][]byte
	delays  []time.Duration
	sendErr error
}

func (f *fakeDelayedQueue) Send(ctx context.Context, payload []byte, visibilityDelay time.Duration) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	f.delays = append(f.delays, visibilityDelay)
	return nil
}

func (f *fakeDelayedQueue) Close() error { return nil }

type deadLetterWrite struct {
	payload []byte
	errCtx  queue.ErrorContext
}

type fakeDeadLetterSink struct {
	writes  []deadLetterWrite
	sendErr error
}

func (f *fakeDeadLetterSink) Send(ctx context.Context, payload []byte, errCtx queue.ErrorContext) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.writes = append(f.writes, deadLetterWrite{payload: payload, errCtx: errCtx})
	return nil
}

func (f *fakeDeadLetterSink) Close() error { return nil }

type fakeGateway struct {
	refundOutcome gateway.RefundOutcome
	refundErr     error
	refundCalls   int

	state      gateway.AuthorizationState
	stateErr   error
	stateCalls int
}

func (f *fakeGateway) RequestRefund(ctx context.Context, authorizationRequestID string) (gateway.RefundOutcome, error) {
	f.refundCalls++
	return f.refundOutcome, f.refundErr
}

func (f *fakeGateway) QueryAuthorizationState(ctx context.Context, authorizationRequestID string) (gateway.AuthorizationState, error) {
	f.stateCalls++
	return f.state, f.stateErr
}

type fakeCheckpointer struct {
	successes int
	failures  int
}

func (f *fakeCheckpointer) Success() error {
	f.successes++
	return nil
}

func (f *fakeCheckpointer) Failure() error {
	f.failures++
	return nil
}

func testEventFactory() transaction.EventFactory {
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

func buildEvent(t *testing.T, factory transaction.EventFactory, transactionID string, code transaction.EventCode, data any) transaction.Event {
	t.Helper()
	ev, err := factory.Build(transactionID, code, data)
	require.NoError(t, err)
	return ev
}

func envelopePayload(t *testing.T, event transaction.Event) []byte {
	t.Helper()
	payload, err := queue.Envelope{Event: event}.Marshal()
	require.NoError(t, err)
	return payload
}

// noopConsumer accepts everything and succeeds, for pipeline-only tests.
type noopConsumer struct {
	accepted  []transaction.EventCode
	processed []transaction.Event
	err       error
}

func (c *noopConsumer) Name() string { return "noop" }

func (c *noopConsumer) AcceptedEvents() []transaction.EventCode { return c.accepted }

func (c *noopConsumer) Process(ctx context.Context, event transaction.Event) error {
	c.processed = append(c.processed, event)
	return c.err
}

func TestPipelineDeadLettersUndecodablePayload(t *testing.T) {
	sink := &fakeDeadLetterSink{}
	cp := &fakeCheckpointer{}
	pipeline := NewPipeline(&noopConsumer{accepted: []transaction.EventCode{transaction.EventActivated}}, sink, zap.NewNop().Sugar())

	err := pipeline.Handle(context.Background(), []byte("not json at all"), cp)
	require.NoError(t, err)

	// Exactly one dead-letter write tagged as a parsing error, message consumed
	require.Len(t, sink.writes, 1)
	assert.Equal(t, queue.ErrorCategoryParsing, sink.writes[0].errCtx.Category)
	assert.Empty(t, sink.writes[0].errCtx.TransactionID)
	assert.Empty(t, sink.writes[0].errCtx.EventCode)
	assert.Equal(t, []byte("not json at all"), sink.writes[0].payload)
	assert.Equal(t, 1, cp.successes)
	assert.Equal(t, 0, cp.failures)
}

func TestPipelineDeadLetterWriteFailurePropagates(t *testing.T) {
	sink := &fakeDeadLetterSink{sendErr: errors.New("dead letter unavailable")}
	cp := &fakeCheckpointer{}
	pipeline := NewPipeline(&noopConsumer{accepted: []transaction.EventCode{transaction.EventActivated}}, sink, zap.NewNop().Sugar())

	err := pipeline.Handle(context.Background(), []byte("garbage"), cp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead letter unavailable")
	assert.Equal(t, 0, cp.successes)
	assert.Equal(t, 1, cp.failures)
}

func TestPipelineDeadLettersProcessingFailure(t *testing.T) {
	factory := testEventFactory()
	event := buildEvent(t, factory, "tx-1", transaction.EventActivated, transaction.ActivationData{Email: "user@example.com"})
	sink := &fakeDeadLetterSink{}
	cp := &fakeCheckpointer{}
	consumer := &noopConsumer{
		accepted: []transaction.EventCode{transaction.EventActivated},
		err:      markProcessing(errors.New("poison state")),
	}
	pipeline := NewPipeline(consumer, sink, zap.NewNop().Sugar())

	err := pipeline.Handle(context.Background(), envelopePayload(t, event), cp)
	require.NoError(t, err)

	require.Len(t, sink.writes, 1)
	assert.Equal(t, queue.ErrorCategoryProcessing, sink.writes[0].errCtx.Category)
	assert.Equal(t, "tx-1", sink.writes[0].errCtx.TransactionID)
	assert.Equal(t, string(transaction.EventActivated), sink.writes[0].errCtx.EventCode)
	assert.Equal(t, 1, cp.successes)
}

func TestPipelinePropagatesInfrastructureFailure(t *testing.T) {
	factory := testEventFactory()
	event := buildEvent(t, factory, "tx-1", transaction.EventActivated, nil)
	sink := &fakeDeadLetterSink{}
	cp := &fakeCheckpointer{}
	infraErr := errors.New("event store unavailable")
	consumer := &noopConsumer{
		accepted: []transaction.EventCode{transaction.EventActivated},
		err:      infraErr,
	}
	pipeline := NewPipeline(consumer, sink, zap.NewNop().Sugar())

	err := pipeline.Handle(context.Background(), envelopePayload(t, event), cp)
	assert.ErrorIs(t, err, infraErr)

	// Not dead-lettered: the transport redelivers
	assert.Empty(t, sink.writes)
	assert.Equal(t, 0, cp.successes)
	assert.Equal(t, 1, cp.failures)
}

func TestDecodeEnvelope(t *testing.T) {
	factory := testEventFactory()
	activated := buildEvent(t, factory, "tx-1", transaction.EventActivated, nil)

	tests := []struct {
		name        string
		payload     []byte
		accepted    []transaction.EventCode
		expectedErr string
	}{
		{
			name:     "accepted event code",
			payload:  envelopePayload(t, activated),
			accepted: []transaction.EventCode{transaction.EventActivated, transaction.EventClosed},
		},
		{
			name:        "event code not in alternatives",
			payload:     envelopePayload(t, activated),
			accepted:    []transaction.EventCode{transaction.EventExpired},
			expectedErr: "unexpected event code",
		},
		{
			name:        "malformed payload",
			payload:     []byte("{"),
			accepted:    []transaction.EventCode{transaction.EventActivated},
			expectedErr: "malformed message payload",
		},
		{
			name:        "missing required fields",
			payload:     []byte(`{"event":{"eventCode":"TRANSACTION_ACTIVATED_EVENT"}}`),
			accepted:    []transaction.EventCode{transaction.EventActivated},
			expectedErr: "missing required fields",
		},
		{
			name: "unknown fields tolerated",
			payload: []byte(`{"event":{"id":"e1","transactionId":"tx-1",` +
				`"creationDate":"2024-05-01T12:00:00Z","eventCode":"TRANSACTION_ACTIVATED_EVENT",` +
				`"somethingNew":true},"extra":{"a":1}}`),
			accepted: []transaction.EventCode{transaction.EventActivated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := decodeEnvelope(tt.payload, tt.accepted...)
			if tt.expectedErr != "" {
				assert.ErrorContains(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "tx-1", envelope.Event.TransactionID)
		})
	}
}
