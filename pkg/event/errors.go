package event

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventType is returned when subscribing to a Type that is not
	// part of the unified schema.
	ErrUnknownEventType = errors.New("event: unknown event type")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("event: nil handler")

	// ErrBusDestroyed is returned when subscribing to a destroyed bus.
	ErrBusDestroyed = errors.New("event: bus destroyed")

	// ErrFlushInHandler is returned by Flush when called from a handler,
	// where waiting for the deferred queue could never finish.
	ErrFlushInHandler = errors.New("event: flush called from a handler")
)

// HandlerError describes a handler that returned an error or panicked.
type HandlerError struct {
	Subscriber string
	EventType  Type
	Err        error
	Panicked   bool
}

func (e HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("handler %q panicked on %s: %v", e.Subscriber, e.EventType, e.Err)
	}
	return fmt.Sprintf("handler %q failed on %s: %v", e.Subscriber, e.EventType, e.Err)
}

func (e HandlerError) Unwrap() error { return e.Err }
