package appender

import (
	"errors"
	"fmt"
)

// WriteError reports a failed statement in the insert sequence. Table names
// the target table and Op the phase ("prepare", "exec", "rows-affected").
type WriteError struct {
	Table string
	Op    string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func newWriteError(table, op string, err error) *WriteError {
	return &WriteError{Table: table, Op: op, Err: err}
}

// IsWriteError reports whether err wraps a *WriteError and returns it.
func IsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// KeyResolutionError reports that the parent row was inserted but its
// generated key could not be recovered by either strategy. DirectErr holds
// the generated-key failure (nil when the capability was off), FallbackErr
// the fallback query failure (nil when no fallback query exists).
type KeyResolutionError struct {
	Dialect     string
	DirectErr   error
	FallbackErr error
}

func (e *KeyResolutionError) Error() string {
	switch {
	case e.DirectErr != nil && e.FallbackErr != nil:
		return fmt.Sprintf("resolve event id (%s): generated key: %v; fallback query: %v", e.Dialect, e.DirectErr, e.FallbackErr)
	case e.FallbackErr != nil:
		return fmt.Sprintf("resolve event id (%s): fallback query: %v", e.Dialect, e.FallbackErr)
	case e.DirectErr != nil:
		return fmt.Sprintf("resolve event id (%s): generated key: %v", e.Dialect, e.DirectErr)
	default:
		return fmt.Sprintf("resolve event id (%s): no retrieval strategy available", e.Dialect)
	}
}

func (e *KeyResolutionError) Unwrap() error {
	if e.FallbackErr != nil {
		return e.FallbackErr
	}
	return e.DirectErr
}

// IsKeyResolutionError reports whether err wraps a *KeyResolutionError and
// returns it.
func IsKeyResolutionError(err error) (*KeyResolutionError, bool) {
	var ke *KeyResolutionError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
