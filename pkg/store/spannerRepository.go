package store

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// SpannerEventStore implements EventStore on a TransactionEvents table.
type SpannerEventStore struct {
	client *spanner.Client
}

func NewSpannerEventStore(client *spanner.Client) *SpannerEventStore {
	return &SpannerEventStore{client: client}
}

func (s *SpannerEventStore) Append(ctx context.Context, event transaction.Event) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmt := spanner.Statement{
			SQL: `INSERT INTO TransactionEvents (Id, TransactionId, CreationDate, EventCode, Data)
                  VALUES (@id, @transactionId, @creationDate, @eventCode, @data)`,
			Params: map[string]interface{}{
				"id":            event.ID,
				"transactionId": event.TransactionID,
				"creationDate":  event.CreationDate,
				"eventCode":     string(event.EventCode),
				"data":          string(event.Data),
			},
		}
		_, err := txn.Update(ctx, stmt)
		return err
	})
	return err
}

func (s *SpannerEventStore) FindByTransactionID(ctx context.Context, transactionID string) ([]transaction.Event, error) {
	stmt := spanner.Statement{
		SQL: `SELECT Id, TransactionId, CreationDate, EventCode, Data FROM TransactionEvents
              WHERE TransactionId = @transactionId ORDER BY CreationDate ASC`,
		Params: map[string]interface{}{
			"transactionId": transactionID,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var events []transaction.Event
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var event transaction.Event
		var eventCode, data string
		if err := row.Columns(
			&event.ID,
			&event.TransactionID,
			&event.CreationDate,
			&eventCode,
			&data); err != nil {
			return nil, err
		}
		event.EventCode = transaction.EventCode(eventCode)
		event.Data = json.RawMessage(data)
		events = append(events, event)
	}

	return events, nil
}

// SpannerViewStore implements ViewStore on a TransactionViews table.
type SpannerViewStore struct {
	client *spanner.Client
}

func NewSpannerViewStore(client *spanner.Client) *SpannerViewStore {
	return &SpannerViewStore{client: client}
}

func (s *SpannerViewStore) Upsert(ctx context.Context, view TransactionView) error {
	notices, err := json.Marshal(view.PaymentNotices)
	if err != nil {
		return err
	}

	var fee spanner.NullInt64
	if view.Fee != nil {
		fee = spanner.NullInt64{Int64: *view.Fee, Valid: true}
	}

	mutation := spanner.InsertOrUpdate("TransactionViews",
		[]string{"TransactionId", "PaymentNotices", "Fee", "Email", "Status", "ClientId", "CreationDate", "UpdatedAt"},
		[]interface{}{view.TransactionID, string(notices), fee, view.Email, string(view.Status), view.ClientID, view.CreationDate, time.Now()})

	_, err = s.client.Apply(ctx, []*spanner.Mutation{mutation})
	return err
}

func (s *SpannerViewStore) FindByTransactionID(ctx context.Context, transactionID string) (TransactionView, error) {
	stmt := spanner.Statement{
		SQL: `SELECT TransactionId, PaymentNotices, Fee, Email, Status, ClientId, CreationDate
              FROM TransactionViews WHERE TransactionId = @transactionId`,
		Params: map[string]interface{}{
			"transactionId": transactionID,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return TransactionView{}, ErrViewNotFound
	}
	if err != nil {
		return TransactionView{}, err
	}

	var view TransactionView
	var notices, status string
	var fee spanner.NullInt64
	if err := row.Columns(&view.TransactionID, &notices, &fee, &view.Email, &status, &view.ClientID, &view.CreationDate); err != nil {
		return TransactionView{}, err
	}
	view.Status = transaction.Status(status)
	if fee.Valid {
		view.Fee = &fee.Int64
	}
	if notices != "" {
		if err := json.Unmarshal([]byte(notices), &view.PaymentNotices); err != nil {
			return TransactionView{}, err
		}
	}
	return view, nil
}
