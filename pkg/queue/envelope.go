package queue

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

// Envelope is the wire format of every queue message: the domain event plus
// opaque tracing context. TracingInfo is forwarded unchanged for
// observability and never interpreted by the pipeline.
type Envelope struct {
	Event       transaction.Event `json:"event"`
	TracingInfo map[string]string `json:"tracingInfo,omitempty"`
}

// NewEnvelope wraps an event and captures the current trace context into
// TracingInfo.
func NewEnvelope(ctx context.Context, event transaction.Event) Envelope {
	tracingInfo := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(tracingInfo))
	return Envelope{Event: event, TracingInfo: tracingInfo}
}

// Marshal serializes the envelope for the queue transport.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
