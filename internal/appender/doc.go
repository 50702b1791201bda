// Package appender implements the sqlog write path: persisting one logging
// event into three related tables.
//
// ARCHITECTURE:
//
// Write Sequence:
// Each Append call runs a fixed multi-statement sequence on the handle it is
// given:
//  1. Bind and execute the parent insert into logging_event (ten columns,
//     fixed order). An affected-row count other than one raises a diagnostic
//     warning; whether the sequence continues is governed by MismatchPolicy.
//  2. Resolve the database-assigned event id: read the driver's generated key
//     when the capability descriptor allows it, otherwise run the dialect's
//     last-insert-id query. Without an id no child row can be written, so a
//     resolution failure aborts the event.
//  3. Merge context-scope and event-scope properties (event scope wins) and
//     insert one logging_event_property row per entry.
//  4. Insert one logging_event_exception row per throwable trace line, index
//     0..N-1 in original order, only when the event carries a throwable.
//
// Child inserts are batched into a single multi-row statement when the
// capability descriptor allows it, and executed row by row on a prepared
// statement otherwise. An empty child set prepares no statement at all.
//
// Transactions:
// Append never opens a transaction. It writes through the Execer it is
// handed, which both *sql.DB and *sql.Tx satisfy: callers that need the three
// inserts to be atomic run Append inside their own transaction; callers that
// accept a parent row surviving a crash without its children pass the bare
// DB. The one statement the per-row path prepares lives for exactly one
// Append call and is closed on every exit path.
//
// Failure model:
// Statement failures surface as *WriteError and id-resolution failures as
// *KeyResolutionError; both abort the current event and propagate. Nothing is
// retried here, and a failed event never corrupts state for the next one.
// The affected-row-count warning is diagnostic only and is emitted through
// the configured slog logger.
package appender
