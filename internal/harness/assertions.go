package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sqlog/internal/store"
)

// AssertionError is returned when an expectation fails.
// It carries the expected and actual outcomes in human-readable form.
type AssertionError struct {
	Type     string // Expectation type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext provides database access for evaluating expectations.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateExpectations evaluates all expectations against the persisted rows.
// Returns a slice of error messages for failed expectations.
func EvaluateExpectations(result *Result, expects []Expectation, actx *AssertionContext) []string {
	var msgs []string

	for i, e := range expects {
		var err error

		switch e.Type {
		case AssertRowCount:
			err = assertRowCount(actx, e)
		case AssertPropertyValue:
			err = assertPropertyValue(actx, result.EventIDs, e)
		case AssertTraceLine:
			err = assertTraceLine(actx, result.EventIDs, e)
		case AssertReferenceMask:
			err = assertReferenceMask(actx, result.EventIDs, e)
		case AssertCallerAbsent:
			err = assertCallerAbsent(actx, result.EventIDs, e)
		case AssertCallerLine:
			err = assertCallerLine(actx, result.EventIDs, e)
		default:
			err = fmt.Errorf("expect[%d]: unknown expectation type %q", i, e.Type)
		}

		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}

	return msgs
}

// resolveEventID maps a 1-based scenario position to the generated row id.
func resolveEventID(ids []int64, ordinal int) (int64, error) {
	if ordinal < 1 || ordinal > len(ids) {
		return 0, fmt.Errorf("event %d out of range: scenario appended %d events", ordinal, len(ids))
	}
	return ids[ordinal-1], nil
}

// assertRowCount checks that a table holds exactly the expected row count.
// Table names are validated at load time against the three fixed tables, so
// interpolation here is safe.
func assertRowCount(actx *AssertionContext, e Expectation) error {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", e.Table)
	if err := actx.Store.DB().QueryRowContext(actx.Ctx, query).Scan(&n); err != nil {
		return fmt.Errorf("row_count: query %s: %w", e.Table, err)
	}
	if n != e.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s", e.Count, e.Table),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

// assertPropertyValue checks the merged property value stored for an event.
func assertPropertyValue(actx *AssertionContext, ids []int64, e Expectation) error {
	id, err := resolveEventID(ids, e.Event)
	if err != nil {
		return fmt.Errorf("property_value: %w", err)
	}

	var value string
	err = actx.Store.DB().QueryRowContext(actx.Ctx,
		"SELECT mapped_value FROM logging_event_property WHERE event_id = ? AND mapped_key = ?",
		id, e.Key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return &AssertionError{
			Type:     AssertPropertyValue,
			Expected: fmt.Sprintf("property %q = %q for event %d", e.Key, e.Value, e.Event),
			Actual:   "property not present",
		}
	}
	if err != nil {
		return fmt.Errorf("property_value: query event %d: %w", e.Event, err)
	}
	if value != e.Value {
		return &AssertionError{
			Type:     AssertPropertyValue,
			Expected: fmt.Sprintf("property %q = %q for event %d", e.Key, e.Value, e.Event),
			Actual:   fmt.Sprintf("property %q = %q", e.Key, value),
		}
	}
	return nil
}

// assertTraceLine checks the throwable line stored at a given index.
func assertTraceLine(actx *AssertionContext, ids []int64, e Expectation) error {
	id, err := resolveEventID(ids, e.Event)
	if err != nil {
		return fmt.Errorf("trace_line: %w", err)
	}

	var line string
	err = actx.Store.DB().QueryRowContext(actx.Ctx,
		"SELECT trace_line FROM logging_event_exception WHERE event_id = ? AND i = ?",
		id, e.Index,
	).Scan(&line)
	if errors.Is(err, sql.ErrNoRows) {
		return &AssertionError{
			Type:     AssertTraceLine,
			Expected: fmt.Sprintf("trace line %d = %q for event %d", e.Index, e.Line, e.Event),
			Actual:   fmt.Sprintf("no trace line at index %d", e.Index),
		}
	}
	if err != nil {
		return fmt.Errorf("trace_line: query event %d: %w", e.Event, err)
	}
	if line != e.Line {
		return &AssertionError{
			Type:     AssertTraceLine,
			Expected: fmt.Sprintf("trace line %d = %q for event %d", e.Index, e.Line, e.Event),
			Actual:   fmt.Sprintf("trace line %d = %q", e.Index, line),
		}
	}
	return nil
}

// assertReferenceMask checks the parent row's reference_flag value.
func assertReferenceMask(actx *AssertionContext, ids []int64, e Expectation) error {
	id, err := resolveEventID(ids, e.Event)
	if err != nil {
		return fmt.Errorf("reference_mask: %w", err)
	}

	var mask int
	err = actx.Store.DB().QueryRowContext(actx.Ctx,
		"SELECT reference_flag FROM logging_event WHERE event_id = ?",
		id,
	).Scan(&mask)
	if err != nil {
		return fmt.Errorf("reference_mask: query event %d: %w", e.Event, err)
	}
	if mask != e.Mask {
		return &AssertionError{
			Type:     AssertReferenceMask,
			Expected: fmt.Sprintf("reference_flag %d for event %d", e.Mask, e.Event),
			Actual:   fmt.Sprintf("reference_flag %d", mask),
		}
	}
	return nil
}

// assertCallerAbsent checks that all four caller columns are NULL.
func assertCallerAbsent(actx *AssertionContext, ids []int64, e Expectation) error {
	id, err := resolveEventID(ids, e.Event)
	if err != nil {
		return fmt.Errorf("caller_absent: %w", err)
	}

	var populated int
	err = actx.Store.DB().QueryRowContext(actx.Ctx,
		`SELECT (caller_filename IS NOT NULL) + (caller_class IS NOT NULL) +
		        (caller_method IS NOT NULL) + (caller_line IS NOT NULL)
		 FROM logging_event WHERE event_id = ?`,
		id,
	).Scan(&populated)
	if err != nil {
		return fmt.Errorf("caller_absent: query event %d: %w", e.Event, err)
	}
	if populated != 0 {
		return &AssertionError{
			Type:     AssertCallerAbsent,
			Expected: fmt.Sprintf("all caller columns NULL for event %d", e.Event),
			Actual:   fmt.Sprintf("%d caller columns populated", populated),
		}
	}
	return nil
}

// assertCallerLine checks the textual caller_line column. The column stores
// the line number as text, so the expectation's line is compared as a string.
func assertCallerLine(actx *AssertionContext, ids []int64, e Expectation) error {
	id, err := resolveEventID(ids, e.Event)
	if err != nil {
		return fmt.Errorf("caller_line: %w", err)
	}

	var line sql.NullString
	err = actx.Store.DB().QueryRowContext(actx.Ctx,
		"SELECT caller_line FROM logging_event WHERE event_id = ?",
		id,
	).Scan(&line)
	if err != nil {
		return fmt.Errorf("caller_line: query event %d: %w", e.Event, err)
	}
	if !line.Valid {
		return &AssertionError{
			Type:     AssertCallerLine,
			Expected: fmt.Sprintf("caller_line %q for event %d", e.Line, e.Event),
			Actual:   "caller columns are NULL",
		}
	}
	if line.String != e.Line {
		return &AssertionError{
			Type:     AssertCallerLine,
			Expected: fmt.Sprintf("caller_line %q for event %d", e.Line, e.Event),
			Actual:   fmt.Sprintf("caller_line %q", line.String),
		}
	}
	return nil
}
