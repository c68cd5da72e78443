package transaction

// Status is the lifecycle status of a transaction as exposed by the
// materialized view.
type Status string

const (
	StatusActivated              Status = "ACTIVATED"
	StatusAuthorizationRequested Status = "AUTHORIZATION_REQUESTED"
	StatusAuthorizationCompleted Status = "AUTHORIZATION_COMPLETED"
	StatusClosureRequested       Status = "CLOSURE_REQUESTED"
	StatusClosed                 Status = "CLOSED"
	StatusClosureError           Status = "CLOSURE_ERROR"
	StatusCanceled               Status = "CANCELED"
	StatusExpired                Status = "EXPIRED"
	StatusExpiredNotAuthorized   Status = "EXPIRED_NOT_AUTHORIZED"
	StatusRefundRequested        Status = "REFUND_REQUESTED"
	StatusRefundError            Status = "REFUND_ERROR"
	StatusRefunded               Status = "REFUNDED"
)

// transientStatuses are the statuses a transaction can still leave on its
// own. Everything else is terminal (or stuck waiting for remediation).
var transientStatuses = map[Status]struct{}{
	StatusActivated:              {},
	StatusAuthorizationRequested: {},
	StatusAuthorizationCompleted: {},
	StatusClosureRequested:       {},
	StatusClosureError:           {},
}

// IsTransient reports whether a transaction in the given status may still
// progress and is therefore subject to expiration.
func IsTransient(s Status) bool {
	_, ok := transientStatuses[s]
	return ok
}

// ExpiredStatus returns the status an expired transaction lands in,
// depending on whether it can be refunded.
func ExpiredStatus(refundable bool) Status {
	if refundable {
		return StatusExpired
	}
	return StatusExpiredNotAuthorized
}
