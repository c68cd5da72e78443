package transaction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventCode identifies the payload schema of an event and the lifecycle
// transition it represents.
type EventCode string

const (
	EventActivated              EventCode = "TRANSACTION_ACTIVATED_EVENT"
	EventAuthorizationRequested EventCode = "TRANSACTION_AUTHORIZATION_REQUESTED_EVENT"
	EventAuthorizationCompleted EventCode = "TRANSACTION_AUTHORIZATION_COMPLETED_EVENT"
	EventClosureRequested       EventCode = "TRANSACTION_CLOSURE_REQUESTED_EVENT"
	EventClosed                 EventCode = "TRANSACTION_CLOSED_EVENT"
	EventClosureError           EventCode = "TRANSACTION_CLOSURE_ERROR_EVENT"
	EventClosureRetried         EventCode = "TRANSACTION_CLOSURE_RETRIED_EVENT"
	EventUserCanceled           EventCode = "TRANSACTION_USER_CANCELED_EVENT"
	EventExpired                EventCode = "TRANSACTION_EXPIRED_EVENT"
	EventRefundRequested        EventCode = "TRANSACTION_REFUND_REQUESTED_EVENT"
	EventRefundError            EventCode = "TRANSACTION_REFUND_ERROR_EVENT"
	EventRefunded               EventCode = "TRANSACTION_REFUNDED_EVENT"
	EventRefundRetried          EventCode = "TRANSACTION_REFUND_RETRIED_EVENT"
	EventAuthorizationRetried   EventCode = "TRANSACTION_AUTHORIZATION_OUTCOME_WAITING_EVENT"
)

// Event is one entry of a transaction's append-only event log. Events are
// immutable once appended; events for one transaction are totally ordered
// by CreationDate.
type Event struct {
	ID            string          `json:"id" bson:"id" validate:"required"`
	TransactionID string          `json:"transactionId" bson:"transactionId" validate:"required"`
	CreationDate  time.Time       `json:"creationDate" bson:"creationDate" validate:"required"`
	EventCode     EventCode       `json:"eventCode" bson:"eventCode" validate:"required"`
	Data          json.RawMessage `json:"data,omitempty" bson:"data,omitempty"`
}

// PaymentNotice is one payment position settled by a transaction.
type PaymentNotice struct {
	PaymentToken string `json:"paymentToken" bson:"paymentToken"`
	NoticeID     string `json:"noticeId" bson:"noticeId"`
	Description  string `json:"description" bson:"description"`
	Amount       int64  `json:"amount" bson:"amount"`
}

// ActivationData is the payload of an activated event.
type ActivationData struct {
	Email          string          `json:"email"`
	PaymentNotices []PaymentNotice `json:"paymentNotices"`
	ClientID       string          `json:"clientId"`
}

// AuthorizationRequestData is the payload of an authorization-requested
// event. AuthorizationRequestID is the handle the gateway hands back and the
// key for refunds and state queries.
type AuthorizationRequestData struct {
	Amount                 int64  `json:"amount"`
	Fee                    int64  `json:"fee"`
	AuthorizationRequestID string `json:"authorizationRequestId"`
	PaymentInstrumentID    string `json:"paymentInstrumentId"`
	PspID                  string `json:"pspId"`
	PaymentGateway         string `json:"paymentGateway"`
}

// AuthorizationCompletedData is the payload of an authorization-completed
// event.
type AuthorizationCompletedData struct {
	AuthorizationCode string `json:"authorizationCode"`
	Outcome           string `json:"outcome"`
}

// ClosureData is the payload of a closed event.
type ClosureData struct {
	Outcome string `json:"outcome"`
}

// ClosureErrorData is the payload of a closure-error event.
type ClosureErrorData struct {
	HTTPErrorCode    string `json:"httpErrorCode"`
	ErrorDescription string `json:"errorDescription"`
}

// ExpiredData records the status the transaction held before it expired.
type ExpiredData struct {
	StatusBeforeExpiration Status `json:"statusBeforeExpiration"`
}

// RefundData records the status the transaction held before entering the
// refund path.
type RefundData struct {
	StatusBeforeRefund Status `json:"statusBeforeRefunded"`
}

// RetriedData is the payload of every retry event.
type RetriedData struct {
	RetryCount int `json:"retryCount"`
}

// IDGenerator produces event and message identifiers. Injectable so tests
// stay deterministic.
type IDGenerator func() string

// Clock produces event timestamps. Injectable for the same reason.
type Clock func() time.Time

// NewID is the production IDGenerator.
func NewID() string { return uuid.NewString() }

// EventFactory builds log events with injected id and time sources.
type EventFactory struct {
	IDs   IDGenerator
	Clock Clock
}

// NewEventFactory returns a factory backed by uuid and the wall clock.
func NewEventFactory() EventFactory {
	return EventFactory{IDs: NewID, Clock: time.Now}
}

// Build assembles a new event for the given transaction. The data payload is
// marshaled as-is; a nil payload produces an event without data.
func (f EventFactory) Build(transactionID string, code EventCode, data any) (Event, error) {
	ev := Event{
		ID:            f.IDs(),
		TransactionID: transactionID,
		CreationDate:  f.Clock().UTC(),
		EventCode:     code,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}
