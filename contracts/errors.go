package contracts

import (
	"errors"
	"fmt"
)

const unregisteredEvent = "Unregistered event"

var (
	// ErrTimeout rejects a call whose response did not arrive in time.
	ErrTimeout = errors.New("Timeout")

	// ErrUnregisteredEvent matches a remote rejection sent because the peer
	// has no handler for the requested name.
	ErrUnregisteredEvent = errors.New(unregisteredEvent)

	// ErrShutdown rejects calls that were pending when the bridge shut down
	// and calls issued afterwards.
	ErrShutdown = errors.New("bridge shut down")

	// ErrEmptyName is returned when a call or registration has no name.
	ErrEmptyName = errors.New("name is required")

	// ErrMalformedMessage is logged for inbound values that are neither a
	// request nor a response. It never reaches a caller.
	ErrMalformedMessage = errors.New("malformed message")
)

// UnregisteredEventValue is the error value sent for a request nobody handles.
func UnregisteredEventValue() any {
	return unregisteredEvent
}

// RemoteError carries the opaque error value of a failed response.
type RemoteError struct {
	Name  string
	Value any
}

// NewRemoteError wraps an application error value. Handlers return it to
// send value verbatim as the response error.
func NewRemoteError(value any) *RemoteError {
	return &RemoteError{Value: value}
}

func (e *RemoteError) Error() string {
	if s, ok := e.Value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", e.Value)
}

// WireValue returns the value sent on the wire.
func (e *RemoteError) WireValue() any {
	return e.Value
}

// Is lets errors.Is match ErrUnregisteredEvent.
func (e *RemoteError) Is(target error) bool {
	if target == ErrUnregisteredEvent {
		s, ok := e.Value.(string)
		return ok && s == unregisteredEvent
	}
	return false
}

// WireError returns the value to put in the _error field for err.
func WireError(err error) any {
	if err == nil {
		return nil
	}

	var provider interface{ WireValue() any }
	if errors.As(err, &provider) {
		if v := provider.WireValue(); v != nil {
			return v
		}
	}

	return err.Error()
}
