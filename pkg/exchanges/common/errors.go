package common

import (
	"errors"
	"fmt"
)

// RejectReason is the closed set of exchange rejection subcodes the trading
// engine branches on. Wire integers are mapped here, at the collaborator
// boundary, and never compared inside the engine.
type RejectReason int

const (
	ReasonUnknown RejectReason = iota
	ReasonReduceOnlyRejected
	ReasonWouldTriggerImmediately
	ReasonDuplicateClientOrderID
	ReasonListenKeyExpired
)

func (r RejectReason) String() string {
	switch r {
	case ReasonReduceOnlyRejected:
		return "REDUCE_ONLY_REJECTED"
	case ReasonWouldTriggerImmediately:
		return "WOULD_TRIGGER_IMMEDIATELY"
	case ReasonDuplicateClientOrderID:
		return "DUPLICATE_CLIENT_ID"
	case ReasonListenKeyExpired:
		return "LISTEN_KEY_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Binance futures error codes for the reasons above.
const (
	codeWouldTriggerImmediately = -2021
	codeReduceOnlyRejected      = -2022
	codeListenKeyExpired        = -1125
	codeDuplicateClientOrderID  = -4116
)

// APIError is a terminal exchange rejection. Transient transport failures are
// retried by the client before one of these (or a plain error) surfaces.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// Reason maps the wire code onto the closed enum.
func (e *APIError) Reason() RejectReason {
	switch e.Code {
	case codeReduceOnlyRejected:
		return ReasonReduceOnlyRejected
	case codeWouldTriggerImmediately:
		return ReasonWouldTriggerImmediately
	case codeDuplicateClientOrderID:
		return ReasonDuplicateClientOrderID
	case codeListenKeyExpired:
		return ReasonListenKeyExpired
	default:
		return ReasonUnknown
	}
}

// ReasonOf extracts the rejection reason from any error. Non-API errors
// (terminal network failures) map to ReasonUnknown, which callers treat the
// same as an unrecognized exchange code.
func ReasonOf(err error) RejectReason {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason()
	}
	return ReasonUnknown
}
