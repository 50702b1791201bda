package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlog/internal/appender"
	"github.com/roach88/sqlog/internal/event"
	"github.com/roach88/sqlog/internal/store"
)

// seedAssertionStore appends two events through the real appender: one fully
// populated, one bare. Returns the context and the generated ids.
func seedAssertionStore(t *testing.T) (*AssertionContext, []int64) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	app := appender.New(appender.SQLite)

	full := &event.Event{
		Timestamp:         1724572800000,
		Message:           "charge failed",
		LoggerName:        "com.example.Billing",
		Level:             "ERROR",
		ThreadName:        "worker-7",
		ContextProperties: map[string]string{"env": "staging", "region": "eu-central"},
		EventProperties:   map[string]string{"env": "prod"},
		Throwable: []string{
			"java.lang.IllegalStateException: boom",
			"at com.example.Billing.charge(Billing.java:88)",
		},
		Caller: []event.CallerFrame{
			{File: "Billing.java", Class: "com.example.Billing", Method: "charge", Line: 88},
		},
	}
	bare := &event.Event{
		Timestamp:  1724572801000,
		Message:    "started",
		LoggerName: "root",
		Level:      "INFO",
	}

	id1, err := app.Append(ctx, st.DB(), full)
	require.NoError(t, err)
	id2, err := app.Append(ctx, st.DB(), bare)
	require.NoError(t, err)

	return &AssertionContext{Store: st, Ctx: ctx}, []int64{id1, id2}
}

func TestAssertRowCount(t *testing.T) {
	actx, _ := seedAssertionStore(t)

	require.NoError(t, assertRowCount(actx, Expectation{
		Type: AssertRowCount, Table: "logging_event", Count: 2,
	}))
	require.NoError(t, assertRowCount(actx, Expectation{
		Type: AssertRowCount, Table: "logging_event_property", Count: 2,
	}))

	err := assertRowCount(actx, Expectation{
		Type: AssertRowCount, Table: "logging_event", Count: 3,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 rows in logging_event")
	assert.Contains(t, err.Error(), "2 rows")
}

func TestAssertPropertyValue(t *testing.T) {
	actx, ids := seedAssertionStore(t)

	require.NoError(t, assertPropertyValue(actx, ids, Expectation{
		Type: AssertPropertyValue, Event: 1, Key: "env", Value: "prod",
	}))

	// Event scope won, so the context value must not match.
	err := assertPropertyValue(actx, ids, Expectation{
		Type: AssertPropertyValue, Event: 1, Key: "env", Value: "staging",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `property "env" = "prod"`)

	err = assertPropertyValue(actx, ids, Expectation{
		Type: AssertPropertyValue, Event: 1, Key: "order", Value: "42",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property not present")
}

func TestAssertTraceLine(t *testing.T) {
	actx, ids := seedAssertionStore(t)

	require.NoError(t, assertTraceLine(actx, ids, Expectation{
		Type: AssertTraceLine, Event: 1, Index: 1,
		Line: "at com.example.Billing.charge(Billing.java:88)",
	}))

	err := assertTraceLine(actx, ids, Expectation{
		Type: AssertTraceLine, Event: 1, Index: 5, Line: "nothing here",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no trace line at index 5")
}

func TestAssertReferenceMask(t *testing.T) {
	actx, ids := seedAssertionStore(t)

	// Properties, exception, and caller data all present: 0x01|0x02|0x04.
	require.NoError(t, assertReferenceMask(actx, ids, Expectation{
		Type: AssertReferenceMask, Event: 1, Mask: 7,
	}))
	require.NoError(t, assertReferenceMask(actx, ids, Expectation{
		Type: AssertReferenceMask, Event: 2, Mask: 0,
	}))

	err := assertReferenceMask(actx, ids, Expectation{
		Type: AssertReferenceMask, Event: 2, Mask: 7,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference_flag 7 for event 2")
	assert.Contains(t, err.Error(), "reference_flag 0")
}

func TestAssertCallerAbsent(t *testing.T) {
	actx, ids := seedAssertionStore(t)

	require.NoError(t, assertCallerAbsent(actx, ids, Expectation{
		Type: AssertCallerAbsent, Event: 2,
	}))

	err := assertCallerAbsent(actx, ids, Expectation{
		Type: AssertCallerAbsent, Event: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 caller columns populated")
}

func TestAssertCallerLine(t *testing.T) {
	actx, ids := seedAssertionStore(t)

	// Line numbers are stored as text.
	require.NoError(t, assertCallerLine(actx, ids, Expectation{
		Type: AssertCallerLine, Event: 1, Line: "88",
	}))

	err := assertCallerLine(actx, ids, Expectation{
		Type: AssertCallerLine, Event: 2, Line: "88",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "caller columns are NULL")
}

func TestResolveEventID(t *testing.T) {
	ids := []int64{7, 9}

	id, err := resolveEventID(ids, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	_, err = resolveEventID(ids, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event 0 out of range")

	_, err = resolveEventID(ids, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario appended 2 events")
}

func TestEvaluateExpectations_CollectsAllFailures(t *testing.T) {
	actx, ids := seedAssertionStore(t)
	result := NewResult()
	result.EventIDs = ids

	msgs := EvaluateExpectations(result, []Expectation{
		{Type: AssertRowCount, Table: "logging_event", Count: 2},
		{Type: AssertReferenceMask, Event: 2, Mask: 7},
		{Type: "bogus"},
	}, actx)

	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Assertion failed: reference_mask")
	assert.Contains(t, msgs[1], `unknown expectation type "bogus"`)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRowCount,
		Expected: "1 rows in logging_event",
		Actual:   "0 rows",
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: row_count")
	assert.Contains(t, msg, "Expected: 1 rows in logging_event")
	assert.Contains(t, msg, "Actual: 0 rows")
}
