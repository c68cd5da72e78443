package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

func TestPostgresEventStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresEventStore{db: db}

	creationDate := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := transaction.Event{
		ID:            "event-1",
		TransactionID: "tx-1",
		CreationDate:  creationDate,
		EventCode:     transaction.EventActivated,
		Data:          json.RawMessage(`{"email":"user@example.com"}`),
	}

	mock.ExpectExec(`INSERT INTO transaction_events \(id, transaction_id, creation_date, event_code, data\)`).
		WithArgs("event-1", "tx-1", creationDate, transaction.EventActivated, []byte(`{"email":"user@example.com"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	err = repo.Append(ctx, event)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventStoreFindByTransactionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresEventStore{db: db}

	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)
	rows := sqlmock.NewRows([]string{"id", "transaction_id", "creation_date", "event_code", "data"}).
		AddRow("event-1", "tx-1", first, string(transaction.EventActivated), []byte(`{}`)).
		AddRow("event-2", "tx-1", second, string(transaction.EventAuthorizationRequested), []byte(`{"fee":50}`))

	mock.ExpectQuery(`SELECT id, transaction_id, creation_date, event_code, data FROM transaction_events\s+WHERE transaction_id = \$1 ORDER BY creation_date ASC`).
		WithArgs("tx-1").
		WillReturnRows(rows)

	ctx := context.Background()
	events, err := repo.FindByTransactionID(ctx, "tx-1")
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "event-1", events[0].ID)
	assert.Equal(t, transaction.EventActivated, events[0].EventCode)
	assert.Equal(t, "event-2", events[1].ID)
	assert.Equal(t, transaction.EventAuthorizationRequested, events[1].EventCode)
	assert.Equal(t, json.RawMessage(`{"fee":50}`), events[1].Data)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresViewStoreUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresViewStore{db: db}

	fee := int64(50)
	creationDate := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	view := TransactionView{
		TransactionID: "tx-1",
		PaymentNotices: []transaction.PaymentNotice{
			{PaymentToken: "token-1", NoticeID: "notice-1", Amount: 1000},
		},
		Fee:          &fee,
		Email:        "user@example.com",
		Status:       transaction.StatusRefunded,
		ClientID:     "CHECKOUT",
		CreationDate: creationDate,
	}
	notices, err := json.Marshal(view.PaymentNotices)
	assert.NoError(t, err)

	mock.ExpectExec(`INSERT INTO transaction_views .+ ON CONFLICT \(transaction_id\) DO UPDATE`).
		WithArgs("tx-1", notices, &fee, "user@example.com", transaction.StatusRefunded, "CHECKOUT", creationDate).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	err = repo.Upsert(ctx, view)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresViewStoreFindByTransactionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresViewStore{db: db}

	creationDate := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"transaction_id", "payment_notices", "fee", "email", "status", "client_id", "creation_date"}).
		AddRow("tx-1", []byte(`[{"paymentToken":"token-1","noticeId":"notice-1","description":"","amount":1000}]`),
			int64(50), "user@example.com", string(transaction.StatusRefundError), "CHECKOUT", creationDate)

	mock.ExpectQuery(`SELECT transaction_id, payment_notices, fee, email, status, client_id, creation_date\s+FROM transaction_views WHERE transaction_id = \$1`).
		WithArgs("tx-1").
		WillReturnRows(rows)

	ctx := context.Background()
	view, err := repo.FindByTransactionID(ctx, "tx-1")
	assert.NoError(t, err)
	assert.Equal(t, "tx-1", view.TransactionID)
	assert.Equal(t, transaction.StatusRefundError, view.Status)
	assert.NotNil(t, view.Fee)
	assert.Equal(t, int64(50), *view.Fee)
	assert.Len(t, view.PaymentNotices, 1)
	assert.Equal(t, "token-1", view.PaymentNotices[0].PaymentToken)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresViewStoreFindByTransactionIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresViewStore{db: db}

	mock.ExpectQuery(`SELECT transaction_id, payment_notices, fee, email, status, client_id, creation_date\s+FROM transaction_views WHERE transaction_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "payment_notices", "fee", "email", "status", "client_id", "creation_date"}))

	ctx := context.Background()
	_, err = repo.FindByTransactionID(ctx, "missing")
	assert.ErrorIs(t, err, ErrViewNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
