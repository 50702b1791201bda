package event

// CallerFrame identifies one frame of the call site that produced an event.
// Line is kept as an int here; the write path renders it as text because the
// caller_line column is textual.
type CallerFrame struct {
	File   string
	Class  string
	Method string
	Line   int
}

// Event is one structured logging event, pre-built by the producing side
// (slog bridge, ingest server, CLI) and treated as read-only by the write
// path.
//
// ContextProperties are ambient key/value pairs shared by many events (the
// logger context scope); EventProperties are attached to this event alone and
// take precedence on key collision. Either map may be nil, which is treated
// as empty everywhere.
//
// Throwable holds the formatted stack trace lines of an attached error, in
// original order. nil (or empty) means the event carries no throwable.
type Event struct {
	Timestamp  int64 // epoch milliseconds
	Message    string
	LoggerName string
	Level      string
	ThreadName string

	Caller    []CallerFrame
	Throwable []string

	ContextProperties map[string]string
	EventProperties   map[string]string
}

// HasCallerData reports whether at least one caller frame is available.
// Only the first frame is ever persisted; deeper frames are carried for
// producers that capture full stacks but are discarded by the write path.
func (e *Event) HasCallerData() bool {
	return len(e.Caller) > 0
}

// HasThrowable reports whether the event carries a throwable representation.
// An empty slice counts as absent so producers can pass the zero value
// without triggering an exception-table write.
func (e *Event) HasThrowable() bool {
	return len(e.Throwable) > 0
}
