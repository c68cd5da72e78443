package queue

import (
	"context"
	"time"
)

// ErrorCategory classifies why a payload ended up on the dead-letter queue.
type ErrorCategory string

const (
	ErrorCategoryParsing    ErrorCategory = "parsing-error"
	ErrorCategoryProcessing ErrorCategory = "processing-error"
)

// ErrorContext is the out-of-band metadata attached to a dead-letter
// message. TransactionID and EventCode are empty for parsing errors, where
// nothing could be extracted from the payload.
type ErrorContext struct {
	TransactionID string
	EventCode     string
	Category      ErrorCategory
}

// DelayedQueue sends a payload to one queue with a visibility delay: the
// message becomes consumable only after the delay elapses.
type DelayedQueue interface {
	Send(ctx context.Context, payload []byte, visibilityDelay time.Duration) error
	Close() error
}

// DeadLetterSink stores payloads the pipeline could not process, together
// with their error context, for out-of-band remediation.
type DeadLetterSink interface {
	Send(ctx context.Context, payload []byte, errCtx ErrorContext) error
	Close() error
}
