package appender

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlog/internal/event"
	"github.com/roach88/sqlog/internal/store"
	"github.com/roach88/sqlog/internal/testutil"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEvent() *event.Event {
	return &event.Event{
		Timestamp:  1724572800000,
		Message:    "hello",
		LoggerName: "com.example.App",
		Level:      "INFO",
		ThreadName: "main",
	}
}

type parentRow struct {
	timestamp    int64
	message      string
	logger       string
	level        string
	thread       string
	mask         int64
	callerFile   sql.NullString
	callerClass  sql.NullString
	callerMethod sql.NullString
	callerLine   sql.NullString
}

func readParent(t *testing.T, db *sql.DB, id int64) parentRow {
	t.Helper()
	var r parentRow
	err := db.QueryRow(`
		SELECT timestmp, formatted_message, logger_name, level_string, thread_name,
		       reference_flag, caller_filename, caller_class, caller_method, caller_line
		FROM logging_event WHERE event_id = ?
	`, id).Scan(&r.timestamp, &r.message, &r.logger, &r.level, &r.thread,
		&r.mask, &r.callerFile, &r.callerClass, &r.callerMethod, &r.callerLine)
	require.NoError(t, err)
	return r
}

func readProperties(t *testing.T, db *sql.DB, id int64) map[string]string {
	t.Helper()
	rows, err := db.Query(`
		SELECT mapped_key, mapped_value FROM logging_event_property WHERE event_id = ?
	`, id)
	require.NoError(t, err)
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var k, v string
		require.NoError(t, rows.Scan(&k, &v))
		props[k] = v
	}
	require.NoError(t, rows.Err())
	return props
}

func readTraceLines(t *testing.T, db *sql.DB, id int64) []string {
	t.Helper()
	rows, err := db.Query(`
		SELECT i, trace_line FROM logging_event_exception WHERE event_id = ? ORDER BY i
	`, id)
	require.NoError(t, err)
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var i int
		var line string
		require.NoError(t, rows.Scan(&i, &line))
		require.Equal(t, len(lines), i, "trace line indices must be contiguous from 0")
		lines = append(lines, line)
	}
	require.NoError(t, rows.Err())
	return lines
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// riggedResult overrides selected sql.Result readings while the real
// execution underneath stands.
type riggedResult struct {
	real        sql.Result
	rigAffected bool
	affected    int64
	affectedErr error
	rigLastID   bool
	lastID      int64
	lastIDErr   error
}

func (r riggedResult) LastInsertId() (int64, error) {
	if r.rigLastID {
		return r.lastID, r.lastIDErr
	}
	return r.real.LastInsertId()
}

func (r riggedResult) RowsAffected() (int64, error) {
	if r.rigAffected {
		return r.affected, r.affectedErr
	}
	return r.real.RowsAffected()
}

// riggedExecer delegates everything and rigs the result of the parent insert
// (recognized by its timestmp column) so affected-row counts and
// generated-key failures can be scripted against a real database.
type riggedExecer struct {
	next        Execer
	rigAffected bool
	affected    int64
	affectedErr error
	rigLastID   bool
	lastID      int64
	lastIDErr   error
}

func (r *riggedExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.next.ExecContext(ctx, query, args...)
	if err != nil || !strings.Contains(query, "timestmp") {
		return res, err
	}
	return riggedResult{
		real:        res,
		rigAffected: r.rigAffected,
		affected:    r.affected,
		affectedErr: r.affectedErr,
		rigLastID:   r.rigLastID,
		lastID:      r.lastID,
		lastIDErr:   r.lastIDErr,
	}, nil
}

func (r *riggedExecer) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return r.next.PrepareContext(ctx, query)
}

func (r *riggedExecer) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.next.QueryRowContext(ctx, query, args...)
}

func TestAppend_ParentRowAllColumns(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)

	ev := sampleEvent()
	ev.Caller = []event.CallerFrame{
		{File: "app.go", Class: "com.example.App", Method: "Run", Line: 42},
		{File: "deeper.go", Class: "com.example.Deep", Method: "Call", Line: 7},
	}

	id, err := ap.Append(context.Background(), s.DB(), ev)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	row := readParent(t, s.DB(), id)
	assert.Equal(t, int64(1724572800000), row.timestamp)
	assert.Equal(t, "hello", row.message)
	assert.Equal(t, "com.example.App", row.logger)
	assert.Equal(t, "INFO", row.level)
	assert.Equal(t, "main", row.thread)
	assert.Equal(t, int64(event.MaskCallerData), row.mask)

	// Only the first caller frame is persisted, line as text.
	require.True(t, row.callerFile.Valid)
	assert.Equal(t, "app.go", row.callerFile.String)
	assert.Equal(t, "com.example.App", row.callerClass.String)
	assert.Equal(t, "Run", row.callerMethod.String)
	assert.Equal(t, "42", row.callerLine.String)
}

func TestAppend_TwoLayerMergeScenario(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)

	ev := &event.Event{
		Timestamp:         1724572800000,
		Message:           "boom",
		LoggerName:        "com.x.Y",
		Level:             "ERROR",
		ThreadName:        "worker-1",
		ContextProperties: map[string]string{"env": "prod"},
		EventProperties:   map[string]string{"env": "staging", "req": "42"},
	}

	id, err := ap.Append(context.Background(), s.DB(), ev)
	require.NoError(t, err)

	row := readParent(t, s.DB(), id)
	assert.Equal(t, "boom", row.message)
	assert.Equal(t, "com.x.Y", row.logger)
	assert.Equal(t, "ERROR", row.level)
	assert.Equal(t, int64(event.MaskProperties), row.mask)

	// Caller columns stay NULL, never empty strings.
	assert.False(t, row.callerFile.Valid)
	assert.False(t, row.callerClass.Valid)
	assert.False(t, row.callerMethod.Valid)
	assert.False(t, row.callerLine.Valid)

	// Event scope wins the env collision.
	props := readProperties(t, s.DB(), id)
	assert.Equal(t, map[string]string{"env": "staging", "req": "42"}, props)

	assert.Empty(t, readTraceLines(t, s.DB(), id))
}

func TestAppend_AllOptionalAttributes_MaskCombined(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)

	ev := sampleEvent()
	ev.Caller = []event.CallerFrame{{File: "app.go", Class: "App", Method: "Run", Line: 9}}
	ev.ContextProperties = map[string]string{"env": "prod"}
	ev.Throwable = []string{"boom"}

	id, err := ap.Append(context.Background(), s.DB(), ev)
	require.NoError(t, err)

	row := readParent(t, s.DB(), id)
	want := event.MaskProperties | event.MaskException | event.MaskCallerData
	assert.Equal(t, int64(want), row.mask)
	assert.Len(t, readProperties(t, s.DB(), id), 1)
	assert.Len(t, readTraceLines(t, s.DB(), id), 1)
}

func TestAppend_EmptyMergedMap_NoPropertyStatements(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	ap := New(SQLite)

	_, err := ap.Append(context.Background(), rec, sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, 0, rec.CountMatching("exec", "logging_event_property"))
	assert.Equal(t, 0, rec.CountMatching("prepare", "logging_event_property"))
	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event_property"))
}

func TestAppend_ThrowableRowsInOrder(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)

	ev := sampleEvent()
	ev.Throwable = []string{
		"error: connection refused",
		"caused by: dial tcp 10.0.0.1:5432",
		"caused by: network unreachable",
	}

	id, err := ap.Append(context.Background(), s.DB(), ev)
	require.NoError(t, err)

	assert.Equal(t, ev.Throwable, readTraceLines(t, s.DB(), id))
	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event_property"))

	row := readParent(t, s.DB(), id)
	assert.Equal(t, int64(event.MaskException), row.mask)
}

func TestAppend_NoThrowable_NoExceptionStatements(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	ap := New(SQLite)

	_, err := ap.Append(context.Background(), rec, sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, 0, rec.CountMatching("exec", "logging_event_exception"))
	assert.Equal(t, 0, rec.CountMatching("prepare", "logging_event_exception"))
}

func TestAppend_BatchedProperties_SingleExec(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	ap := New(SQLite) // sqlite defaults to batching

	ev := sampleEvent()
	ev.EventProperties = map[string]string{
		"a": "1", "b": "2", "c": "3", "d": "4", "e": "5",
	}

	id, err := ap.Append(context.Background(), rec, ev)
	require.NoError(t, err)

	// One multi-row execution covering all five rows, nothing per-row.
	assert.Equal(t, 1, rec.CountMatching("exec", "logging_event_property"))
	assert.Equal(t, 0, rec.CountMatching("prepare", "logging_event_property"))

	for _, c := range rec.Calls() {
		if c.Method == "exec" && strings.Contains(c.Query, "logging_event_property") {
			assert.Len(t, c.Args, 15) // 5 rows x 3 columns
		}
	}

	assert.Equal(t, map[string]string{
		"a": "1", "b": "2", "c": "3", "d": "4", "e": "5",
	}, readProperties(t, s.DB(), id))
}

func TestAppend_PerRowChildren_PreparedOnce(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	ap := New(SQLite, WithCapabilities(Capabilities{GeneratedKeys: true, BatchInserts: false}))

	ev := sampleEvent()
	ev.EventProperties = map[string]string{
		"a": "1", "b": "2", "c": "3", "d": "4", "e": "5",
	}
	ev.Throwable = []string{"boom", "caused by: bang"}

	id, err := ap.Append(context.Background(), rec, ev)
	require.NoError(t, err)

	// Each child set prepares its statement once; the row executions run on
	// the prepared statement, not through the handle.
	assert.Equal(t, 1, rec.CountMatching("prepare", "logging_event_property"))
	assert.Equal(t, 0, rec.CountMatching("exec", "logging_event_property"))
	assert.Equal(t, 1, rec.CountMatching("prepare", "logging_event_exception"))
	assert.Equal(t, 0, rec.CountMatching("exec", "logging_event_exception"))

	assert.Len(t, readProperties(t, s.DB(), id), 5)
	assert.Equal(t, []string{"boom", "caused by: bang"}, readTraceLines(t, s.DB(), id))
}

func TestAppend_DirectKeyResolution_NoFallbackQuery(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	ap := New(SQLite)

	_, err := ap.Append(context.Background(), rec, sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, 0, rec.CountMatching("query-row", "last_insert_rowid"))
}

func TestAppend_FallbackKeyResolution_UsedOnce(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	ap := New(SQLite, WithCapabilities(Capabilities{GeneratedKeys: false, BatchInserts: true}))

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}

	id, err := ap.Append(context.Background(), rec, ev)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	// Fallback query ran exactly once and resolved the just-inserted row.
	assert.Equal(t, 1, rec.CountMatching("query-row", "last_insert_rowid"))

	var gotID int64
	require.NoError(t, s.DB().QueryRow(
		`SELECT event_id FROM logging_event WHERE formatted_message = ?`, "hello",
	).Scan(&gotID))
	assert.Equal(t, gotID, id)

	// Children attached to the resolved id.
	assert.Equal(t, map[string]string{"req": "42"}, readProperties(t, s.DB(), id))
}

func TestAppend_DirectFailure_FallsThroughToFallback(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	rig := &riggedExecer{next: rec, rigLastID: true, lastIDErr: errors.New("no key channel")}
	ap := New(SQLite)

	id, err := ap.Append(context.Background(), rig, sampleEvent())
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	assert.Equal(t, 1, rec.CountMatching("query-row", "last_insert_rowid"))
}

func TestAppend_DirectNonPositiveID_FallsThroughToFallback(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	rig := &riggedExecer{next: rec, rigLastID: true, lastID: 0}
	ap := New(SQLite)

	id, err := ap.Append(context.Background(), rig, sampleEvent())
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	assert.Equal(t, 1, rec.CountMatching("query-row", "last_insert_rowid"))
}

func TestAppend_NoStrategyLeft_KeyResolutionError(t *testing.T) {
	s := setupTestStore(t)

	noFallback := SQLite
	noFallback.SelectLastInsertID = ""

	rig := &riggedExecer{next: s.DB(), rigLastID: true, lastIDErr: errors.New("no key channel")}
	ap := New(noFallback)

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}

	_, err := ap.Append(context.Background(), rig, ev)
	require.Error(t, err)

	ke, ok := IsKeyResolutionError(err)
	require.True(t, ok)
	assert.Equal(t, "sqlite3", ke.Dialect)
	assert.Error(t, ke.DirectErr)
	assert.Nil(t, ke.FallbackErr)

	// Without an id no child row can be written; the parent row stands alone.
	assert.Equal(t, 1, countRows(t, s.DB(), "logging_event"))
	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event_property"))
}

func TestAppend_FailedEvent_DoesNotPoisonNext(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	noFallback := SQLite
	noFallback.SelectLastInsertID = ""
	rig := &riggedExecer{next: s.DB(), rigLastID: true, lastIDErr: errors.New("no key channel")}

	broken := New(noFallback)
	_, err := broken.Append(ctx, rig, sampleEvent())
	require.Error(t, err)

	// A healthy appender on the same store keeps working.
	healthy := New(SQLite)
	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}
	id, err := healthy.Append(ctx, s.DB(), ev)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"req": "42"}, readProperties(t, s.DB(), id))
}

func TestAppend_MismatchWarn_ContinuesAndLogs(t *testing.T) {
	s := setupTestStore(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rig := &riggedExecer{next: s.DB(), rigAffected: true, affected: 0}
	ap := New(SQLite, WithLogger(logger))

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}

	id, err := ap.Append(context.Background(), rig, ev)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	assert.Contains(t, buf.String(), "unexpected row count")
	assert.Len(t, readProperties(t, s.DB(), id), 1)
}

func TestAppend_MismatchAbort_StopsBeforeKeyResolution(t *testing.T) {
	s := setupTestStore(t)
	rec := testutil.NewRecordingExecer(s.DB())
	rig := &riggedExecer{next: rec, rigAffected: true, affected: 0}
	// Route key resolution through the fallback query so an attempted
	// resolution would show up in the record.
	ap := New(SQLite,
		WithMismatchPolicy(MismatchAbort),
		WithCapabilities(Capabilities{GeneratedKeys: false, BatchInserts: true}))

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}

	_, err := ap.Append(context.Background(), rig, ev)
	require.Error(t, err)

	we, ok := IsWriteError(err)
	require.True(t, ok)
	assert.Equal(t, TableEvent, we.Table)
	assert.Equal(t, "rows-affected", we.Op)

	// Aborted after the parent insert, before key resolution and children.
	assert.Equal(t, 1, countRows(t, s.DB(), "logging_event"))
	assert.Equal(t, 0, rec.CountMatching("query-row", "last_insert_rowid"))
	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event_property"))
}

func TestAppend_AffectedCountUnavailable_Continues(t *testing.T) {
	s := setupTestStore(t)
	rig := &riggedExecer{next: s.DB(), rigAffected: true, affectedErr: errors.New("not supported")}
	ap := New(SQLite)

	id, err := ap.Append(context.Background(), rig, sampleEvent())
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
}

func TestAppend_InsideTransaction_RollbackDiscardsAll(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)
	ctx := context.Background()

	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}
	ev.Throwable = []string{"boom"}

	_, err = ap.Append(ctx, tx, ev)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event"))
	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event_property"))
	assert.Equal(t, 0, countRows(t, s.DB(), "logging_event_exception"))
}

func TestAppend_InsideTransaction_CommitKeepsAll(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)
	ctx := context.Background()

	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}
	ev.Throwable = []string{"boom"}

	id, err := ap.Append(ctx, tx, ev)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, countRows(t, s.DB(), "logging_event"))
	assert.Equal(t, map[string]string{"req": "42"}, readProperties(t, s.DB(), id))
	assert.Equal(t, []string{"boom"}, readTraceLines(t, s.DB(), id))
}

func TestAppend_ChildWriteFailure_SurfacesWriteError(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)
	ctx := context.Background()

	// Sabotage the property table so the child insert fails.
	_, err := s.DB().Exec(`DROP TABLE logging_event_property`)
	require.NoError(t, err)

	ev := sampleEvent()
	ev.EventProperties = map[string]string{"req": "42"}

	_, err = ap.Append(ctx, s.DB(), ev)
	require.Error(t, err)

	we, ok := IsWriteError(err)
	require.True(t, ok)
	assert.Equal(t, TableProperty, we.Table)
	assert.Equal(t, "exec", we.Op)

	// Without a transaction the parent row survives on its own.
	assert.Equal(t, 1, countRows(t, s.DB(), "logging_event"))
}

func TestAppend_SequentialEvents_DistinctIDs(t *testing.T) {
	s := setupTestStore(t)
	ap := New(SQLite)
	ctx := context.Background()

	first := sampleEvent()
	first.EventProperties = map[string]string{"n": "1"}
	second := sampleEvent()
	second.Message = "second"
	second.EventProperties = map[string]string{"n": "2"}

	id1, err := ap.Append(ctx, s.DB(), first)
	require.NoError(t, err)
	id2, err := ap.Append(ctx, s.DB(), second)
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	assert.Equal(t, map[string]string{"n": "1"}, readProperties(t, s.DB(), id1))
	assert.Equal(t, map[string]string{"n": "2"}, readProperties(t, s.DB(), id2))
}
