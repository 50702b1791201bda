package appender

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/sqlog/internal/event"
)

// Execer is the unit of work an Append call writes through. *sql.DB,
// *sql.Tx, and *sql.Conn all satisfy it. Callers that need the three inserts
// to commit or roll back together pass a *sql.Tx; the appender itself never
// opens a transaction.
//
// Note: the fallback key-resolution query must observe the same session as
// the parent insert. A *sql.Tx or *sql.Conn guarantees that; a bare *sql.DB
// only does when its pool is pinned to a single connection.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MismatchPolicy selects what happens when the parent insert reports an
// affected-row count other than one.
type MismatchPolicy int

const (
	// MismatchWarn emits a warning and continues to key resolution. This is
	// the historical behavior; it risks resolving a key that belongs to an
	// unrelated row.
	MismatchWarn MismatchPolicy = iota

	// MismatchAbort stops the sequence with a *WriteError before key
	// resolution is attempted.
	MismatchAbort
)

// Appender writes logging events through the fixed three-table insert
// sequence. Construct one per dialect/connection pairing and reuse it; the
// capability descriptor and mismatch policy are fixed at construction and
// never re-probed per call.
type Appender struct {
	dialect  Dialect
	caps     Capabilities
	mismatch MismatchPolicy
	log      *slog.Logger
}

// Option configures an Appender.
type Option func(*Appender)

// WithLogger sets the logger used for diagnostic warnings. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Appender) { a.log = l }
}

// WithCapabilities overrides the dialect's default capability descriptor,
// e.g. to disable batching for a driver that rejects multi-row inserts.
func WithCapabilities(c Capabilities) Option {
	return func(a *Appender) { a.caps = c }
}

// WithMismatchPolicy sets the affected-row-count policy. Defaults to
// MismatchWarn.
func WithMismatchPolicy(p MismatchPolicy) Option {
	return func(a *Appender) { a.mismatch = p }
}

// New builds an Appender for the given dialect. Capabilities default to the
// dialect's.
func New(d Dialect, opts ...Option) *Appender {
	a := &Appender{
		dialect:  d,
		caps:     d.Caps,
		mismatch: MismatchWarn,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append persists one event: parent row, generated-id resolution, property
// children, exception children. It returns the id assigned to the parent
// row.
//
// Statement failures return a *WriteError and id-resolution failures a
// *KeyResolutionError; both abort the current event. Nothing is retried.
func (a *Appender) Append(ctx context.Context, ex Execer, ev *event.Event) (int64, error) {
	mask := event.ComputeReferenceMask(ev)

	res, err := ex.ExecContext(ctx, a.dialect.InsertEvent, eventRowArgs(ev, mask)...)
	if err != nil {
		return 0, newWriteError(TableEvent, "exec", err)
	}

	if err := a.checkAffected(res); err != nil {
		return 0, err
	}

	id, err := a.resolveEventID(ctx, ex, res)
	if err != nil {
		return 0, err
	}

	if err := a.insertProperties(ctx, ex, id, ev.MergedProperties()); err != nil {
		return 0, err
	}

	if ev.HasThrowable() {
		if err := a.insertThrowable(ctx, ex, id, ev.Throwable); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// eventRowArgs binds the ten parent-row columns in their fixed order. When
// the event has no caller data the four caller columns stay NULL; only the
// first caller frame is persisted, deeper frames are dropped.
func eventRowArgs(ev *event.Event, mask event.ReferenceMask) []any {
	args := []any{
		ev.Timestamp,
		ev.Message,
		ev.LoggerName,
		ev.Level,
		ev.ThreadName,
		int64(mask),
		nil, nil, nil, nil,
	}
	if ev.HasCallerData() {
		frame := ev.Caller[0]
		args[6] = frame.File
		args[7] = frame.Class
		args[8] = frame.Method
		args[9] = strconv.Itoa(frame.Line)
	}
	return args
}

// checkAffected applies the mismatch policy to the parent insert's
// affected-row count. Drivers that cannot report the count get a warning and
// the sequence continues under either policy.
func (a *Appender) checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		a.log.Warn("parent insert affected-row count unavailable",
			"table", TableEvent,
			"error", err)
		return nil
	}
	if n == 1 {
		return nil
	}
	if a.mismatch == MismatchAbort {
		return newWriteError(TableEvent, "rows-affected", fmt.Errorf("affected %d rows, want 1", n))
	}
	a.log.Warn("parent insert affected unexpected row count",
		"table", TableEvent,
		"rows", n)
	return nil
}

// resolveEventID recovers the id the store assigned to the parent row. The
// direct generated-key read is tried first when the capability descriptor
// allows it; on failure or when disabled, the dialect's last-insert-id query
// runs once. Zero and negative ids are rejected: they mean the driver had no
// key, not that a row got id 0.
func (a *Appender) resolveEventID(ctx context.Context, ex Execer, res sql.Result) (int64, error) {
	var directErr error
	if a.caps.GeneratedKeys {
		id, err := res.LastInsertId()
		if err == nil && id > 0 {
			return id, nil
		}
		if err == nil {
			err = fmt.Errorf("driver reported id %d", id)
		}
		directErr = err
	}

	if a.dialect.SelectLastInsertID == "" {
		return 0, &KeyResolutionError{Dialect: a.dialect.Name, DirectErr: directErr}
	}

	var id int64
	if err := ex.QueryRowContext(ctx, a.dialect.SelectLastInsertID).Scan(&id); err != nil {
		return 0, &KeyResolutionError{Dialect: a.dialect.Name, DirectErr: directErr, FallbackErr: err}
	}
	if id <= 0 {
		return 0, &KeyResolutionError{
			Dialect:     a.dialect.Name,
			DirectErr:   directErr,
			FallbackErr: fmt.Errorf("query reported id %d", id),
		}
	}
	return id, nil
}

func (a *Appender) insertProperties(ctx context.Context, ex Execer, id int64, props map[string]string) error {
	if len(props) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(props))
	for k, v := range props {
		rows = append(rows, []any{id, k, v})
	}
	return a.writeChildRows(ctx, ex, TableProperty, a.dialect.InsertProperty, rows)
}

func (a *Appender) insertThrowable(ctx context.Context, ex Execer, id int64, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(lines))
	for i, line := range lines {
		rows = append(rows, []any{id, i, line})
	}
	return a.writeChildRows(ctx, ex, TableException, a.dialect.InsertException, rows)
}

// writeChildRows inserts the child tuples: one widened multi-row statement
// when batching is on, otherwise one prepared statement executed per row.
// Callers filter the empty case before reaching here, so no statement is
// ever issued for an empty child set.
func (a *Appender) writeChildRows(ctx context.Context, ex Execer, table, single string, rows [][]any) error {
	if a.caps.BatchInserts {
		args := make([]any, 0, len(rows)*childRowWidth)
		for _, row := range rows {
			args = append(args, row...)
		}
		if _, err := ex.ExecContext(ctx, a.dialect.childBatchSQL(single, len(rows)), args...); err != nil {
			return newWriteError(table, "exec", err)
		}
		return nil
	}

	stmt, err := ex.PrepareContext(ctx, single)
	if err != nil {
		return newWriteError(table, "prepare", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return newWriteError(table, "exec", err)
		}
	}
	return nil
}
