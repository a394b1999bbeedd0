package governor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a scope is entered on a running governor.
	ErrAlreadyRunning = errors.New("governor already running")
	ErrNilCallable    = errors.New("governor: nil callable")
	ErrNilHandle      = errors.New("governor: async call returned no handle")
)

// PanicError carries a panic raised by a submitted call.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("call panicked: %v", e.Value) }

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// NotCallableError reports a value passed to Wrap with an unsupported shape.
// It surfaces when the call is invoked, not at submit time.
type NotCallableError struct {
	Type string
}

func (e *NotCallableError) Error() string {
	return "governor: " + e.Type + " is not a supported callable"
}
