// Package store bootstraps the SQLite database that persisted logging
// events land in.
//
// The layout is three related tables:
//   - logging_event: one row per event, event_id auto-generated
//   - logging_event_property: merged key/value properties, PK (event_id, mapped_key)
//   - logging_event_exception: throwable trace lines, PK (event_id, i)
//
// Both child tables reference logging_event(event_id) with ON DELETE
// CASCADE, so retention jobs only ever touch the parent table.
//
// This package owns connection acquisition and schema bootstrap only. All
// writes against the layout go through internal/appender, which receives the
// *sql.DB (or a transaction on it) and never opens connections itself.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Child rows require their parent event
//
// The pool is pinned to a single connection: SQLite allows one writer at a
// time, and the appender's fallback key-resolution query (last_insert_rowid)
// is only meaningful on the connection that ran the insert.
package store
