package workload

import (
	"errors"
	"fmt"
)

// ErrResourceExhausted is returned (wrapped) by hosts when the process table
// has no room for another process.
var ErrResourceExhausted = errors.New("process table exhausted")

// ProcessError is a failure that ends the process it happened in.
// Output and delay failures inside a behavior loop produce one.
type ProcessError struct {
	Role Role
	PID  int
	Op   string // "println" or "sleep"
	Err  error
}

// Error implements the error interface
func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s %d: %s failed: %v", e.Role, e.PID, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsProcessError reports whether err ended a process abnormally
func IsProcessError(err error) bool {
	var pErr *ProcessError
	return errors.As(err, &pErr)
}

// IsResourceExhausted reports whether err is a creation failure caused by
// the process table being full
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}
