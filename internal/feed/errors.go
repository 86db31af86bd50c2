package feed

import (
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned when the upstream feed answered successfully
// but carried no usable records.
var ErrEmptyPayload = errors.New("feed: empty payload")

// FetchError describes a failed request to the upstream feed: a transport
// failure, a timeout, a non-2xx response or an undecodable body.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedRecordError describes one record that could not be normalized.
// It never fails a batch; the record is kept and marked malformed.
type MalformedRecordError struct {
	Index int
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d: field %s: %v", e.Index, e.Field, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

var (
	errNotNumeric  = errors.New("not a number")
	errOutOfRange  = errors.New("out of range")
	errUnsupported = errors.New("unsupported record shape")
)

// Reason classifies err for metrics and the degraded_reason of a snapshot.
func Reason(err error) string {
	var fe *FetchError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, errTimeout):
		return "timeout"
	case errors.As(err, &fe) && fe.StatusCode != 0:
		return "status"
	case errors.As(err, &fe) && fe.Op == "decode":
		return "decode"
	default:
		return "transport"
	}
}
