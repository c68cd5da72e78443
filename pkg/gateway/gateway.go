package gateway

import "context"

// RefundOutcome is the gateway's verdict on a refund request.
type RefundOutcome string

const (
	RefundOutcomeOK RefundOutcome = "OK"
	RefundOutcomeKO RefundOutcome = "KO"
)

// AuthorizationState is the gateway's view of an in-flight authorization.
// Decided is false while the gateway has not settled the outcome yet.
type AuthorizationState struct {
	Decided           bool
	Outcome           string
	AuthorizationCode string
}

// Client talks to the payment gateway. Both operations are keyed by the
// authorizationRequestId handed out when the authorization was requested.
type Client interface {
	RequestRefund(ctx context.Context, authorizationRequestID string) (RefundOutcome, error)
	QueryAuthorizationState(ctx context.Context, authorizationRequestID string) (AuthorizationState, error)
}
