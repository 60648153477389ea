package hub

import (
	"errors"
	"fmt"
)

// ErrConnectionLost fails every pending call when the transport drops. The
// calls cannot be retried blindly, the hub may or may not have executed them.
var ErrConnectionLost = errors.New("hub connection lost")

// ErrTimeout is returned when a call's deadline expires before the hub
// answers. The response, if it ever arrives, is discarded.
var ErrTimeout = errors.New("hub call timed out")

// ErrNotConnected is returned for operations that need an established
// session.
var ErrNotConnected = errors.New("hub not connected")

// TransportError wraps connection-level failures (dial, handshake, send)
// with the operation that hit them.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hub transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
