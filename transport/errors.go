package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull indicates the worker's outbound queue is at capacity.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrClosed indicates the worker or link has shut down.
	ErrClosed = errors.New("transport closed")

	// ErrDisabled indicates the transport failed setup and is waiting to be
	// re-initialized.
	ErrDisabled = errors.New("transport disabled")

	// ErrNotConnected indicates the session could not be established.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout indicates the watchdog ended an exchange.
	ErrTimeout = errors.New("exchange timed out")

	// ErrUnexpectedReply indicates a reply that does not answer the request.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Error describes a failed transport operation.
type Error struct {
	Op   string // operation that failed
	Kind Kind   // transport
	Addr string // peer address if relevant
	Err  error  // underlying error
}

func (e *Error) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with operation context.
func NewError(op string, kind Kind, addr string, err error) *Error {
	return &Error{Op: op, Kind: kind, Addr: addr, Err: err}
}
