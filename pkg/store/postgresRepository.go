package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// PostgresEventStore implements EventStore on a transaction_events table.
type PostgresEventStore struct {
	db *sql.DB // using database/sql
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (p *PostgresEventStore) Append(ctx context.Context, event transaction.Event) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventStore.Append")
	defer span.End()

	startTime := time.Now()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transaction_events (id, transaction_id, creation_date, event_code, data)
         VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.TransactionID, event.CreationDate, event.EventCode, []byte(event.Data))
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", "INSERT transaction_events", 1, time.Since(startTime))
	return nil
}

func (p *PostgresEventStore) FindByTransactionID(ctx context.Context, transactionID string) ([]transaction.Event, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventStore.FindByTransactionID")
	defer span.End()

	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, transaction_id, creation_date, event_code, data FROM transaction_events
         WHERE transaction_id = $1 ORDER BY creation_date ASC`, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var events []transaction.Event
	for rows.Next() {
		var event transaction.Event
		var data []byte
		if err := rows.Scan(&event.ID, &event.TransactionID, &event.CreationDate, &event.EventCode, &data); err != nil {
			span.RecordError(err)
			return nil, err
		}
		event.Data = json.RawMessage(data)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", "SELECT transaction_events", len(events), time.Since(startTime))
	return events, nil
}

// PostgresViewStore implements ViewStore on a transaction_views table.
type PostgresViewStore struct {
	db *sql.DB
}

func NewPostgresViewStore(db *sql.DB) *PostgresViewStore {
	return &PostgresViewStore{db: db}
}

func (p *PostgresViewStore) Upsert(ctx context.Context, view TransactionView) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ViewStore.Upsert")
	defer span.End()

	startTime := time.Now()

	notices, err := json.Marshal(view.PaymentNotices)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO transaction_views (transaction_id, payment_notices, fee, email, status, client_id, creation_date)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (transaction_id) DO UPDATE
         SET payment_notices = EXCLUDED.payment_notices, fee = EXCLUDED.fee, email = EXCLUDED.email,
             status = EXCLUDED.status, client_id = EXCLUDED.client_id`,
		view.TransactionID, notices, view.Fee, view.Email, view.Status, view.ClientID, view.CreationDate)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", "UPSERT transaction_views", 1, time.Since(startTime))
	return nil
}

func (p *PostgresViewStore) FindByTransactionID(ctx context.Context, transactionID string) (TransactionView, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ViewStore.FindByTransactionID")
	defer span.End()

	var view TransactionView
	var notices []byte
	var fee sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT transaction_id, payment_notices, fee, email, status, client_id, creation_date
         FROM transaction_views WHERE transaction_id = $1`, transactionID).
		Scan(&view.TransactionID, &notices, &fee, &view.Email, &view.Status, &view.ClientID, &view.CreationDate)
	if errors.Is(err, sql.ErrNoRows) {
		return TransactionView{}, ErrViewNotFound
	}
	if err != nil {
		span.RecordError(err)
		return TransactionView{}, err
	}

	if fee.Valid {
		view.Fee = &fee.Int64
	}
	if len(notices) > 0 {
		if err := json.Unmarshal(notices, &view.PaymentNotices); err != nil {
			return TransactionView{}, err
		}
	}
	return view, nil
}
