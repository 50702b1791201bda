package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/sqlog/internal/appender"
	"github.com/roach88/sqlog/internal/event"
	"github.com/roach88/sqlog/internal/store"
	"github.com/roach88/sqlog/internal/testutil"
)

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database for isolation, and
// every event goes through the real append sequence: parent insert, key
// resolution, property children, exception children.
//
// Execution flow:
//  1. Open a fresh in-memory database
//  2. Build the appender from the scenario's policy and capability knobs
//  3. Append each event, defaulting timestamps from the deterministic clock
//  4. Capture the table snapshot for golden comparison
//  5. Evaluate expectations and return the result
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	caps := appender.SQLite.Caps
	if scenario.BatchInserts != nil {
		caps.BatchInserts = *scenario.BatchInserts
	}

	policy := appender.MismatchWarn
	if scenario.Policy == "abort" {
		policy = appender.MismatchAbort
	}

	app := appender.New(appender.SQLite,
		appender.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
		appender.WithCapabilities(caps),
		appender.WithMismatchPolicy(policy),
	)

	clock := testutil.NewDeterministicClock()
	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Events {
		ev := buildEvent(step, clock)
		id, err := app.Append(ctx, st.DB(), ev)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: append failed: %w", i, err)
		}
		result.AddEventID(id)
	}

	snapshot, err := TableSnapshot(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tables: %w", err)
	}
	result.Snapshot = snapshot

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateExpectations(result, scenario.Expect, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// buildEvent converts a scenario step into an event, applying the same
// defaults the ingest path applies: clock timestamp, "root" logger, "INFO"
// level.
func buildEvent(step EventStep, clock *testutil.DeterministicClock) *event.Event {
	ev := &event.Event{
		Timestamp:         step.Timestamp,
		Message:           step.Message,
		LoggerName:        step.Logger,
		Level:             step.Level,
		ThreadName:        step.Thread,
		ContextProperties: step.Context,
		EventProperties:   step.Properties,
		Throwable:         step.Throwable,
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = clock.Next()
	}
	if ev.LoggerName == "" {
		ev.LoggerName = "root"
	}
	if ev.Level == "" {
		ev.Level = "INFO"
	}
	for _, frame := range step.Caller {
		ev.Caller = append(ev.Caller, event.CallerFrame{
			File:   frame.File,
			Class:  frame.Class,
			Method: frame.Method,
			Line:   frame.Line,
		})
	}
	return ev
}
