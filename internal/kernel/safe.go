package kernel

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError is a recovered panic from a module, driver, or command handler.
//
// Stack is for logs only; replies never include it.
type PanicError struct {
	Scope string
	Value any
	Stack []byte
}

// Error returns the scope and panic value.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic recovered: %v", e.Scope, e.Value)
}

// AsPanicError extracts *PanicError from err.
func AsPanicError(err error) (*PanicError, bool) {
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		return nil, false
	}

	return panicErr, true
}

// runSafely executes fn, wrapping its error with scope and converting a panic
// into *PanicError.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Scope: scope, Value: recovered, Stack: debug.Stack()}
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
