package transaction

import "time"

// Transaction is the aggregate rebuilt by folding a transaction's event log.
// It is a closed set of variants, one per lifecycle stage; the unexported
// sealed method keeps the set closed to this package. Downstream code decides
// what it may do with an aggregate by type-asserting capabilities (see
// WithRequestedAuthorization, WithClosureError), never by comparing status
// strings.
type Transaction interface {
	TransactionID() string
	Status() Status
	CreationDate() time.Time
	Email() string
	ClientID() string
	PaymentNotices() []PaymentNotice

	sealed()
}

// WithRequestedAuthorization is satisfied by every variant that carries
// authorization request data. A transaction is refundable exactly when its
// variant satisfies this interface.
type WithRequestedAuthorization interface {
	Transaction
	AuthorizationRequestData() AuthorizationRequestData
}

// WithClosureError is satisfied by the closure-error variant and exposes the
// aggregate as it was before the failed closure attempt.
type WithClosureError interface {
	Transaction
	TransactionAtPreviousState() Transaction
}

type baseTransaction struct {
	id             string
	creationDate   time.Time
	email          string
	clientID       string
	paymentNotices []PaymentNotice
}

func (b baseTransaction) TransactionID() string           { return b.id }
func (b baseTransaction) CreationDate() time.Time         { return b.creationDate }
func (b baseTransaction) Email() string                   { return b.email }
func (b baseTransaction) ClientID() string                { return b.clientID }
func (b baseTransaction) PaymentNotices() []PaymentNotice { return b.paymentNotices }
func (b baseTransaction) sealed()                         {}

// EmptyTransaction is the fold's starting point: a transaction with no
// events. All workflow dispatch short-circuits on it.
type EmptyTransaction struct{}

func (EmptyTransaction) TransactionID() string           { return "" }
func (EmptyTransaction) Status() Status                  { return "" }
func (EmptyTransaction) CreationDate() time.Time         { return time.Time{} }
func (EmptyTransaction) Email() string                   { return "" }
func (EmptyTransaction) ClientID() string                { return "" }
func (EmptyTransaction) PaymentNotices() []PaymentNotice { return nil }
func (EmptyTransaction) sealed()                         {}

// TransactionActivated is a transaction whose payment notices have been
// activated and nothing else.
type TransactionActivated struct {
	baseTransaction
}

func (TransactionActivated) Status() Status { return StatusActivated }

// TransactionWithRequestedAuthorization carries the authorization request
// handed to the payment gateway.
type TransactionWithRequestedAuthorization struct {
	TransactionActivated
	authRequest AuthorizationRequestData
}

func (TransactionWithRequestedAuthorization) Status() Status { return StatusAuthorizationRequested }

func (t TransactionWithRequestedAuthorization) AuthorizationRequestData() AuthorizationRequestData {
	return t.authRequest
}

// TransactionAuthorizationCompleted has received the gateway's authorization
// outcome.
type TransactionAuthorizationCompleted struct {
	TransactionWithRequestedAuthorization
	authResult AuthorizationCompletedData
}

func (TransactionAuthorizationCompleted) Status() Status { return StatusAuthorizationCompleted }

// AuthorizationResult returns the gateway outcome recorded at authorization
// completion.
func (t TransactionAuthorizationCompleted) AuthorizationResult() AuthorizationCompletedData {
	return t.authResult
}

// TransactionWithClosureRequested is waiting for the close-payment call to
// complete.
type TransactionWithClosureRequested struct {
	TransactionAuthorizationCompleted
}

func (TransactionWithClosureRequested) Status() Status { return StatusClosureRequested }

// TransactionClosed has settled its close-payment call. Terminal.
type TransactionClosed struct {
	TransactionAuthorizationCompleted
	closure ClosureData
}

func (TransactionClosed) Status() Status { return StatusClosed }

// TransactionUserCanceled was canceled by the user before authorization.
// Terminal.
type TransactionUserCanceled struct {
	TransactionActivated
}

func (TransactionUserCanceled) Status() Status { return StatusCanceled }

// TransactionWithClosureError recorded a failed close-payment attempt. The
// previous variant is kept so recovery can resume from whichever of
// {UserCanceled, ClosureRequested} preceded the error.
type TransactionWithClosureError struct {
	prev       Transaction
	closureErr ClosureErrorData
	retryCount int
}

func (t TransactionWithClosureError) TransactionID() string           { return t.prev.TransactionID() }
func (TransactionWithClosureError) Status() Status                    { return StatusClosureError }
func (t TransactionWithClosureError) CreationDate() time.Time         { return t.prev.CreationDate() }
func (t TransactionWithClosureError) Email() string                   { return t.prev.Email() }
func (t TransactionWithClosureError) ClientID() string                { return t.prev.ClientID() }
func (t TransactionWithClosureError) PaymentNotices() []PaymentNotice { return t.prev.PaymentNotices() }
func (TransactionWithClosureError) sealed()                           {}

// TransactionAtPreviousState replays the aggregate as it stood before the
// failed closure attempt.
func (t TransactionWithClosureError) TransactionAtPreviousState() Transaction { return t.prev }

// ClosureError returns the recorded closure failure details.
func (t TransactionWithClosureError) ClosureError() ClosureErrorData { return t.closureErr }

// RetryCount is the number of closure retries already attempted.
func (t TransactionWithClosureError) RetryCount() int { return t.retryCount }

// TransactionExpired is an expired transaction that had requested
// authorization and is therefore refundable.
type TransactionExpired struct {
	prev         Transaction
	authRequest  AuthorizationRequestData
	statusBefore Status
}

func (t TransactionExpired) TransactionID() string           { return t.prev.TransactionID() }
func (TransactionExpired) Status() Status                    { return StatusExpired }
func (t TransactionExpired) CreationDate() time.Time         { return t.prev.CreationDate() }
func (t TransactionExpired) Email() string                   { return t.prev.Email() }
func (t TransactionExpired) ClientID() string                { return t.prev.ClientID() }
func (t TransactionExpired) PaymentNotices() []PaymentNotice { return t.prev.PaymentNotices() }
func (TransactionExpired) sealed()                           {}

func (t TransactionExpired) AuthorizationRequestData() AuthorizationRequestData {
	return t.authRequest
}

// StatusBeforeExpiration is the status the transaction held when it expired.
func (t TransactionExpired) StatusBeforeExpiration() Status { return t.statusBefore }

// TransactionExpiredNotAuthorized expired before any authorization was
// requested. Nothing to refund. Terminal.
type TransactionExpiredNotAuthorized struct {
	TransactionActivated
	statusBefore Status
}

func (TransactionExpiredNotAuthorized) Status() Status { return StatusExpiredNotAuthorized }

// StatusBeforeExpiration is the status the transaction held when it expired.
func (t TransactionExpiredNotAuthorized) StatusBeforeExpiration() Status { return t.statusBefore }

// TransactionWithRefundRequested is queued for a gateway refund.
type TransactionWithRefundRequested struct {
	prev         Transaction
	authRequest  AuthorizationRequestData
	statusBefore Status
}

func (t TransactionWithRefundRequested) TransactionID() string   { return t.prev.TransactionID() }
func (TransactionWithRefundRequested) Status() Status            { return StatusRefundRequested }
func (t TransactionWithRefundRequested) CreationDate() time.Time { return t.prev.CreationDate() }
func (t TransactionWithRefundRequested) Email() string           { return t.prev.Email() }
func (t TransactionWithRefundRequested) ClientID() string        { return t.prev.ClientID() }
func (t TransactionWithRefundRequested) PaymentNotices() []PaymentNotice {
	return t.prev.PaymentNotices()
}
func (TransactionWithRefundRequested) sealed() {}

func (t TransactionWithRefundRequested) AuthorizationRequestData() AuthorizationRequestData {
	return t.authRequest
}

// StatusBeforeRefund is the status the transaction held when the refund was
// requested.
func (t TransactionWithRefundRequested) StatusBeforeRefund() Status { return t.statusBefore }

// TransactionWithRefundError recorded a failed refund attempt. It stays
// refundable so retries can run the refund again.
type TransactionWithRefundError struct {
	TransactionWithRefundRequested
	retryCount int
}

func (TransactionWithRefundError) Status() Status { return StatusRefundError }

// RetryCount is the number of refund retries already enqueued.
func (t TransactionWithRefundError) RetryCount() int { return t.retryCount }

// TransactionRefunded completed its refund. Terminal.
type TransactionRefunded struct {
	TransactionWithRefundRequested
}

func (TransactionRefunded) Status() Status { return StatusRefunded }

// IsRefundable reports whether the aggregate ever requested an
// authorization, directly or through a recoverable closure error.
func IsRefundable(tx Transaction) bool {
	_, ok := RequestedAuthorization(tx)
	return ok
}

// RequestedAuthorization extracts authorization request data from any
// variant that carries it, looking through closure errors.
func RequestedAuthorization(tx Transaction) (AuthorizationRequestData, bool) {
	switch t := tx.(type) {
	case WithRequestedAuthorization:
		return t.AuthorizationRequestData(), true
	case TransactionWithClosureError:
		return RequestedAuthorization(t.TransactionAtPreviousState())
	default:
		return AuthorizationRequestData{}, false
	}
}

// RefundRetryCount returns how many refund retries the aggregate has already
// recorded, zero for variants outside the refund-error stage.
func RefundRetryCount(tx Transaction) int {
	if t, ok := tx.(TransactionWithRefundError); ok {
		return t.retryCount
	}
	return 0
}

// Fee returns the fee agreed at authorization request time, or nil if no
// authorization was ever requested.
func Fee(tx Transaction) *int64 {
	data, ok := RequestedAuthorization(tx)
	if !ok {
		return nil
	}
	fee := data.Fee
	return &fee
}
