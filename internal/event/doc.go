// Package event provides the logging event model for sqlog.
//
// This package contains the event record plus the pure derivations the write
// path needs: reference-mask computation and two-layer property merging. All
// other internal packages import event; event imports nothing internal. This
// ensures the event model remains the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - An Event is read-only to the write path; nothing here mutates it
//   - Timestamps are epoch milliseconds (int64), matching the timestmp column
//   - Reference-mask bit values are a read-side contract and never change
//   - Merging is deterministic: event-scope wins over context-scope on
//     key collision; iteration order of the merged map carries no meaning
package event
