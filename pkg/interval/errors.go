package interval

import (
	"errors"
	"fmt"
)

// InvalidIntervalError reports a cadence that cannot be resolved to a
// nonnegative seconds value.
type InvalidIntervalError struct {
	Value  any
	Reason string
}

func (e *InvalidIntervalError) Error() string {
	if e.Value == nil {
		return "invalid interval: " + e.Reason
	}
	return fmt.Sprintf("invalid interval %v (%T): %s", e.Value, e.Value, e.Reason)
}

// IsInvalid reports whether err is (or wraps) an *InvalidIntervalError.
func IsInvalid(err error) bool {
	var ie *InvalidIntervalError
	return errors.As(err, &ie)
}

func invalid(v any, format string, args ...any) error {
	return &InvalidIntervalError{Value: v, Reason: fmt.Sprintf(format, args...)}
}
