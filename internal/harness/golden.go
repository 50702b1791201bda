package harness

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sqlog/internal/store"
)

// TableSnapshot renders the three logging tables in a fixed, diff-friendly
// text layout. Rows are ordered by id (and key or index within an event), so
// identical table contents always produce byte-identical output.
//
// Layout:
//
//	== logging_event ==
//	[1] timestmp=1724572800000 level=ERROR logger=com.example.Billing thread=worker-7 flag=3
//	    message: charge failed
//	    caller: -
//
//	== logging_event_property ==
//	[1] env=prod
//
//	== logging_event_exception ==
//	[1] 0: java.lang.IllegalStateException: boom
//
// A populated caller renders as file:class:method:line; NULL caller columns
// render as "-".
func TableSnapshot(ctx context.Context, st *store.Store) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("== logging_event ==\n")
	if err := snapshotEvents(ctx, st, &buf); err != nil {
		return nil, err
	}

	buf.WriteString("\n== logging_event_property ==\n")
	if err := snapshotProperties(ctx, st, &buf); err != nil {
		return nil, err
	}

	buf.WriteString("\n== logging_event_exception ==\n")
	if err := snapshotExceptions(ctx, st, &buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func snapshotEvents(ctx context.Context, st *store.Store, buf *bytes.Buffer) error {
	rows, err := st.Query(ctx,
		`SELECT event_id, timestmp, formatted_message, logger_name, level_string,
		        thread_name, reference_flag,
		        caller_filename, caller_class, caller_method, caller_line
		 FROM logging_event ORDER BY event_id`)
	if err != nil {
		return fmt.Errorf("query logging_event: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, ts, flag                 int64
			msg, logger, level, thread   string
			file, class, method, lineNum sql.NullString
		)
		if err := rows.Scan(&id, &ts, &msg, &logger, &level, &thread, &flag,
			&file, &class, &method, &lineNum); err != nil {
			return fmt.Errorf("scan logging_event: %w", err)
		}

		caller := "-"
		if file.Valid {
			caller = fmt.Sprintf("%s:%s:%s:%s", file.String, class.String, method.String, lineNum.String)
		}

		fmt.Fprintf(buf, "[%d] timestmp=%d level=%s logger=%s thread=%s flag=%d\n",
			id, ts, level, logger, thread, flag)
		fmt.Fprintf(buf, "    message: %s\n", msg)
		fmt.Fprintf(buf, "    caller: %s\n", caller)
	}
	return rows.Err()
}

func snapshotProperties(ctx context.Context, st *store.Store, buf *bytes.Buffer) error {
	rows, err := st.Query(ctx,
		`SELECT event_id, mapped_key, mapped_value
		 FROM logging_event_property ORDER BY event_id, mapped_key`)
	if err != nil {
		return fmt.Errorf("query logging_event_property: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			key, value string
		)
		if err := rows.Scan(&id, &key, &value); err != nil {
			return fmt.Errorf("scan logging_event_property: %w", err)
		}
		fmt.Fprintf(buf, "[%d] %s=%s\n", id, key, value)
	}
	return rows.Err()
}

func snapshotExceptions(ctx context.Context, st *store.Store, buf *bytes.Buffer) error {
	rows, err := st.Query(ctx,
		`SELECT event_id, i, trace_line
		 FROM logging_event_exception ORDER BY event_id, i`)
	if err != nil {
		return fmt.Errorf("query logging_event_exception: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, index int64
			line      string
		)
		if err := rows.Scan(&id, &index, &line); err != nil {
			return fmt.Errorf("scan logging_event_exception: %w", err)
		}
		fmt.Fprintf(buf, "[%d] %d: %s\n", id, index, line)
	}
	return rows.Err()
}

// RunWithGolden executes a scenario and compares its table snapshot against
// a golden file. The golden file is stored in
// testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can additionally check expectations.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden
// file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's table snapshot against a golden
// file. Useful when a scenario has already run and the snapshot should be
// compared without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, result.Snapshot)
}
