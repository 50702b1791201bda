package event

import "errors"

// ThrowableFromError renders an error chain as formatted trace lines, the
// representation the exception table stores. The first line is the full
// message of err; each subsequent line is one step of the unwrap chain,
// prefixed like a framework "caused by" rendering.
//
// Returns nil for a nil error, so the result can be assigned directly to
// Event.Throwable.
func ThrowableFromError(err error) []string {
	if err == nil {
		return nil
	}
	lines := []string{err.Error()}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		lines = append(lines, "caused by: "+cause.Error())
	}
	return lines
}
