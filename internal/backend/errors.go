package backend

import (
	"errors"
	"fmt"
)

// ErrIncompleteStream indicates the connection closed cleanly but no done
// event was ever observed. Persisted like a transport fault, logged apart.
var ErrIncompleteStream = errors.New("stream closed before done event")

// TransportError is a failure of the underlying connection: it could not be
// opened, was reset mid-flight, or timed out before a terminal event.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamError is an application-level failure the backend reported in-band
// while the connection was still healthy.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("backend reported error: %s", e.Message)
}
