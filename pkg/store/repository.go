package store

import (
	"context"
	"errors"
	"time"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// ErrViewNotFound is returned when no materialized view row exists for a
// transaction id.
var ErrViewNotFound = errors.New("transaction view not found")

// EventStore is the append-only event log, one totally ordered stream per
// transaction id.
type EventStore interface {
	// Append durably stores a new event. Events are never updated or deleted.
	Append(ctx context.Context, event transaction.Event) error
	// FindByTransactionID returns the transaction's events ordered by
	// creation date ascending.
	FindByTransactionID(ctx context.Context, transactionID string) ([]transaction.Event, error)
}

// ViewStore holds the denormalized per-transaction projection used for fast
// reads outside the event-sourcing path. Rows are overwritten, not appended.
type ViewStore interface {
	Upsert(ctx context.Context, view TransactionView) error
	FindByTransactionID(ctx context.Context, transactionID string) (TransactionView, error)
}

// TransactionView is the materialized view row. Its status must always equal
// the status implied by the latest appended event; writers append the event
// first and project the view second.
type TransactionView struct {
	TransactionID  string                      `json:"transactionId" bson:"transactionId"`
	PaymentNotices []transaction.PaymentNotice `json:"paymentNotices" bson:"paymentNotices"`
	Fee            *int64                      `json:"fee,omitempty" bson:"fee,omitempty"`
	Email          string                      `json:"email" bson:"email"`
	Status         transaction.Status          `json:"status" bson:"status"`
	ClientID       string                      `json:"clientId" bson:"clientId"`
	CreationDate   time.Time                   `json:"creationDate" bson:"creationDate"`
}

// NewTransactionView projects an aggregate into a view row with the given
// status.
func NewTransactionView(tx transaction.Transaction, status transaction.Status) TransactionView {
	return TransactionView{
		TransactionID:  tx.TransactionID(),
		PaymentNotices: tx.PaymentNotices(),
		Fee:            transaction.Fee(tx),
		Email:          tx.Email(),
		Status:         status,
		ClientID:       tx.ClientID(),
		CreationDate:   tx.CreationDate(),
	}
}
