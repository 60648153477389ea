package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol-shape mismatches. These are never retried:
// they indicate the hub is speaking a dialect we do not understand.
var (
	// ErrMalformedEnvelope means the outer response payload was not a JSON object.
	ErrMalformedEnvelope = errors.New("malformed response envelope")
	// ErrInvalidHandlerArray means the result payload was not an array of records.
	ErrInvalidHandlerArray = errors.New("result is not a handler array")
	// ErrNoFormToShow means a batch expected to carry a form had no FormToShow handler.
	ErrNoFormToShow = errors.New("no FormToShow handler in batch")
)

// RemoteError is an error the hub itself reported in the response envelope.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("hub reported error %d: %s", e.Code, e.Message)
}

// DecompressionError wraps a failure to reverse the ad hoc base64+deflate
// envelope the hub applies to large result payloads.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompress result payload: %v", e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// InvalidHandlerEntryError identifies the array index of a handler record that
// lacked its discriminant tag or carried an unusable payload.
type InvalidHandlerEntryError struct {
	Index  int
	Reason string
}

func (e *InvalidHandlerEntryError) Error() string {
	return fmt.Sprintf("invalid handler entry at index %d: %s", e.Index, e.Reason)
}
