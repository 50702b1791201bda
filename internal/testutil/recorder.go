package testutil

import (
	"context"
	"database/sql"
	"strings"
	"sync"
)

// Execer is the statement surface RecordingExecer wraps. It mirrors
// appender.Execer; *sql.DB, *sql.Tx, and *sql.Conn all satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Call records one statement issued through a RecordingExecer.
type Call struct {
	Method string // "exec", "prepare", or "query-row"
	Query  string
	Args   []any
}

// RecordingExecer wraps a live Execer and records every call that passes
// through it, while delegating to the wrapped handle so the statements still
// run for real.
//
// This lets tests assert on the statement traffic itself: how many inserts
// were batched into one execution, whether the fallback id query ran, and
// that no statement was prepared for an empty child set.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex,
// though append calls themselves must not share a connection.
type RecordingExecer struct {
	mu    sync.Mutex
	next  Execer
	calls []Call
}

// NewRecordingExecer wraps next.
func NewRecordingExecer(next Execer) *RecordingExecer {
	return &RecordingExecer{next: next}
}

// ExecContext records the call and delegates to the wrapped handle.
func (r *RecordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.record("exec", query, args)
	return r.next.ExecContext(ctx, query, args...)
}

// PrepareContext records the call and delegates to the wrapped handle.
//
// Executions on the returned *sql.Stmt are not individually recorded; count
// prepares to distinguish the per-row path from the batched path.
func (r *RecordingExecer) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	r.record("prepare", query, nil)
	return r.next.PrepareContext(ctx, query)
}

// QueryRowContext records the call and delegates to the wrapped handle.
func (r *RecordingExecer) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	r.record("query-row", query, args)
	return r.next.QueryRowContext(ctx, query, args...)
}

func (r *RecordingExecer) record(method, query string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Query: query, Args: args})
}

// Calls returns a copy of everything recorded so far, in call order.
func (r *RecordingExecer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CountMatching returns how many recorded calls used the given method and
// contain substr in their query text. Empty substr matches every query.
func (r *RecordingExecer) CountMatching(method, substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method && strings.Contains(c.Query, substr) {
			n++
		}
	}
	return n
}

// Reset discards everything recorded so far.
func (r *RecordingExecer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
