package consumer

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/queue"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/transaction"
)

var validate = validator.New()

// decodeEnvelope unmarshals a queue payload into the event envelope and
// accepts it only if the event matches one of the given codes. Unknown JSON
// fields are tolerated; missing required fields are not. Codes are tried in
// the order given, first match wins.
func decodeEnvelope(payload []byte, accepted ...transaction.EventCode) (queue.Envelope, error) {
	var envelope queue.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return queue.Envelope{}, fmt.Errorf("malformed message payload: %w", err)
	}
	if err := validate.Struct(envelope.Event); err != nil {
		return queue.Envelope{}, fmt.Errorf("message event is missing required fields: %w", err)
	}
	for _, code := range accepted {
		if envelope.Event.EventCode == code {
			return envelope, nil
		}
	}
	return queue.Envelope{}, fmt.Errorf("unexpected event code %q, accepted: %v", envelope.Event.EventCode, accepted)
}

// retriedCount extracts the retry counter from a retry event's payload,
// zero for any other event.
func retriedCount(event transaction.Event) (int, error) {
	if event.EventCode != transaction.EventRefundRetried && event.EventCode != transaction.EventAuthorizationRetried {
		return 0, nil
	}
	if len(event.Data) == 0 {
		return 0, nil
	}
	var data transaction.RetriedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return 0, markProcessing(fmt.Errorf("decoding retry payload for transaction %s: %w", event.TransactionID, err))
	}
	return data.RetryCount, nil
}
