package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIllegalTransition signals that an event was applied to a variant it has
// no transition from. This is a programming-contract violation (a corrupted
// or reordered log), not a recoverable runtime case.
var ErrIllegalTransition = errors.New("illegal state transition")

// Reduce folds an ordered event sequence into the transaction's current
// variant. The fold is pure and deterministic: the same list always yields
// the same variant. An empty list yields EmptyTransaction.
func Reduce(events []Event) (Transaction, error) {
	var tx Transaction = EmptyTransaction{}
	for _, ev := range events {
		next, err := apply(tx, ev)
		if err != nil {
			return nil, err
		}
		tx = next
	}
	return tx, nil
}

func apply(tx Transaction, ev Event) (Transaction, error) {
	switch ev.EventCode {
	case EventActivated:
		return applyActivated(tx, ev)
	case EventAuthorizationRequested:
		return applyAuthorizationRequested(tx, ev)
	case EventAuthorizationCompleted:
		return applyAuthorizationCompleted(tx, ev)
	case EventClosureRequested:
		if t, ok := tx.(TransactionAuthorizationCompleted); ok {
			return TransactionWithClosureRequested{TransactionAuthorizationCompleted: t}, nil
		}
	case EventClosed:
		return applyClosed(tx, ev)
	case EventUserCanceled:
		if t, ok := tx.(TransactionActivated); ok {
			return TransactionUserCanceled{TransactionActivated: t}, nil
		}
	case EventClosureError:
		return applyClosureError(tx, ev)
	case EventClosureRetried:
		if t, ok := tx.(TransactionWithClosureError); ok {
			data, err := decodeData[RetriedData](ev)
			if err != nil {
				return nil, err
			}
			t.retryCount = data.RetryCount
			return t, nil
		}
	case EventExpired:
		return applyExpired(tx, ev)
	case EventRefundRequested:
		return applyRefundRequested(tx, ev)
	case EventRefundError:
		switch t := tx.(type) {
		case TransactionWithRefundRequested:
			return TransactionWithRefundError{TransactionWithRefundRequested: t}, nil
		case TransactionWithRefundError:
			return t, nil
		}
	case EventRefundRetried:
		if t, ok := tx.(TransactionWithRefundError); ok {
			data, err := decodeData[RetriedData](ev)
			if err != nil {
				return nil, err
			}
			t.retryCount = data.RetryCount
			return t, nil
		}
	case EventRefunded:
		switch t := tx.(type) {
		case TransactionWithRefundRequested:
			return TransactionRefunded{TransactionWithRefundRequested: t}, nil
		case TransactionWithRefundError:
			return TransactionRefunded{TransactionWithRefundRequested: t.TransactionWithRefundRequested}, nil
		}
	case EventAuthorizationRetried:
		// The outcome-waiting retry marker does not move the aggregate; the
		// retry count travels in the queue message that carries it.
		if _, ok := tx.(TransactionWithRequestedAuthorization); ok {
			return tx, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown event code %q", ErrIllegalTransition, ev.EventCode)
	}
	return nil, illegal(tx, ev)
}

func applyActivated(tx Transaction, ev Event) (Transaction, error) {
	if _, ok := tx.(EmptyTransaction); !ok {
		return nil, illegal(tx, ev)
	}
	data, err := decodeData[ActivationData](ev)
	if err != nil {
		return nil, err
	}
	return TransactionActivated{baseTransaction{
		id:             ev.TransactionID,
		creationDate:   ev.CreationDate,
		email:          data.Email,
		clientID:       data.ClientID,
		paymentNotices: data.PaymentNotices,
	}}, nil
}

func applyAuthorizationRequested(tx Transaction, ev Event) (Transaction, error) {
	t, ok := tx.(TransactionActivated)
	if !ok {
		return nil, illegal(tx, ev)
	}
	data, err := decodeData[AuthorizationRequestData](ev)
	if err != nil {
		return nil, err
	}
	return TransactionWithRequestedAuthorization{TransactionActivated: t, authRequest: data}, nil
}

func applyAuthorizationCompleted(tx Transaction, ev Event) (Transaction, error) {
	t, ok := tx.(TransactionWithRequestedAuthorization)
	if !ok {
		return nil, illegal(tx, ev)
	}
	data, err := decodeData[AuthorizationCompletedData](ev)
	if err != nil {
		return nil, err
	}
	return TransactionAuthorizationCompleted{TransactionWithRequestedAuthorization: t, authResult: data}, nil
}

func applyClosed(tx Transaction, ev Event) (Transaction, error) {
	t, ok := tx.(TransactionWithClosureRequested)
	if !ok {
		return nil, illegal(tx, ev)
	}
	data, err := decodeData[ClosureData](ev)
	if err != nil {
		return nil, err
	}
	return TransactionClosed{TransactionAuthorizationCompleted: t.TransactionAuthorizationCompleted, closure: data}, nil
}

func applyClosureError(tx Transaction, ev Event) (Transaction, error) {
	data, err := decodeData[ClosureErrorData](ev)
	if err != nil {
		return nil, err
	}
	switch tx.(type) {
	case TransactionWithClosureRequested, TransactionUserCanceled:
		return TransactionWithClosureError{prev: tx, closureErr: data}, nil
	case TransactionWithClosureError:
		// Another failed attempt after a retry; the recovery point stays put.
		t := tx.(TransactionWithClosureError)
		t.closureErr = data
		return t, nil
	}
	return nil, illegal(tx, ev)
}

func applyExpired(tx Transaction, ev Event) (Transaction, error) {
	if !IsTransient(tx.Status()) {
		return nil, illegal(tx, ev)
	}
	data, err := decodeData[ExpiredData](ev)
	if err != nil {
		return nil, err
	}
	statusBefore := data.StatusBeforeExpiration
	if statusBefore == "" {
		statusBefore = tx.Status()
	}
	if auth, ok := RequestedAuthorization(tx); ok {
		return TransactionExpired{prev: tx, authRequest: auth, statusBefore: statusBefore}, nil
	}
	switch t := tx.(type) {
	case TransactionActivated:
		return TransactionExpiredNotAuthorized{TransactionActivated: t, statusBefore: statusBefore}, nil
	case TransactionWithClosureError:
		if canceled, ok := t.prev.(TransactionUserCanceled); ok {
			return TransactionExpiredNotAuthorized{TransactionActivated: canceled.TransactionActivated, statusBefore: statusBefore}, nil
		}
	}
	return nil, illegal(tx, ev)
}

func applyRefundRequested(tx Transaction, ev Event) (Transaction, error) {
	switch tx.(type) {
	case TransactionExpired,
		TransactionWithRequestedAuthorization,
		TransactionAuthorizationCompleted,
		TransactionWithClosureRequested,
		TransactionWithClosureError:
	default:
		return nil, illegal(tx, ev)
	}
	auth, ok := RequestedAuthorization(tx)
	if !ok {
		return nil, illegal(tx, ev)
	}
	data, err := decodeData[RefundData](ev)
	if err != nil {
		return nil, err
	}
	statusBefore := data.StatusBeforeRefund
	if statusBefore == "" {
		statusBefore = tx.Status()
	}
	return TransactionWithRefundRequested{prev: tx, authRequest: auth, statusBefore: statusBefore}, nil
}

func illegal(tx Transaction, ev Event) error {
	return fmt.Errorf("%w: cannot apply %s to %T (transaction %s)",
		ErrIllegalTransition, ev.EventCode, tx, ev.TransactionID)
}

func decodeData[T any](ev Event) (T, error) {
	var data T
	if len(ev.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return data, fmt.Errorf("decoding %s payload for transaction %s: %w", ev.EventCode, ev.TransactionID, err)
	}
	return data, nil
}
