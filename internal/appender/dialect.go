package appender

import (
	"fmt"
	"strings"
)

// Capabilities describes what the driver/connection pair can do. The values
// are resolved once, at appender construction, and never change afterwards:
// capability selection must not vary call by call.
type Capabilities struct {
	// GeneratedKeys reports whether sql.Result.LastInsertId returns the
	// parent row's generated id for this driver. When false the dialect's
	// last-insert-id query is used instead.
	GeneratedKeys bool

	// BatchInserts reports whether child rows may be queued into a single
	// multi-row insert. When false each child row executes individually.
	BatchInserts bool
}

// PlaceholderStyle selects the bind-parameter syntax a dialect uses.
type PlaceholderStyle int

const (
	// PlaceholderQuestion is the `?` style used by sqlite3 and mysql.
	PlaceholderQuestion PlaceholderStyle = iota

	// PlaceholderDollar is the `$1` style used by postgres.
	PlaceholderDollar
)

// Dialect carries the vendor-specific pieces of the write path: the three
// fixed insert statements, the fallback query returning the most recently
// generated id for the current session, and the default capability
// descriptor for the vendor's common driver.
type Dialect struct {
	Name string

	InsertEvent     string
	InsertProperty  string
	InsertException string

	// SelectLastInsertID is the vendor idiom for the fallback key-resolution
	// strategy. Empty means the dialect has no fallback and generated-key
	// retrieval is the only strategy.
	SelectLastInsertID string

	Placeholders PlaceholderStyle
	Caps         Capabilities
}

// Table names of the fixed schema. Exported so callers can classify a
// *WriteError by the table it failed on.
const (
	TableEvent     = "logging_event"
	TableProperty  = "logging_event_property"
	TableException = "logging_event_exception"
)

const (
	insertEventQuestion = `INSERT INTO logging_event ` +
		`(timestmp, formatted_message, logger_name, level_string, thread_name, reference_flag, ` +
		`caller_filename, caller_class, caller_method, caller_line) ` +
		`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertPropertyQuestion  = `INSERT INTO logging_event_property (event_id, mapped_key, mapped_value) VALUES (?, ?, ?)`
	insertExceptionQuestion = `INSERT INTO logging_event_exception (event_id, i, trace_line) VALUES (?, ?, ?)`

	insertEventDollar = `INSERT INTO logging_event ` +
		`(timestmp, formatted_message, logger_name, level_string, thread_name, reference_flag, ` +
		`caller_filename, caller_class, caller_method, caller_line) ` +
		`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	insertPropertyDollar  = `INSERT INTO logging_event_property (event_id, mapped_key, mapped_value) VALUES ($1, $2, $3)`
	insertExceptionDollar = `INSERT INTO logging_event_exception (event_id, i, trace_line) VALUES ($1, $2, $3)`
)

// SQLite is the dialect for github.com/mattn/go-sqlite3. The driver supports
// LastInsertId, and last_insert_rowid() is connection-scoped, so both
// strategies work.
var SQLite = Dialect{
	Name:               "sqlite3",
	InsertEvent:        insertEventQuestion,
	InsertProperty:     insertPropertyQuestion,
	InsertException:    insertExceptionQuestion,
	SelectLastInsertID: "SELECT last_insert_rowid()",
	Placeholders:       PlaceholderQuestion,
	Caps:               Capabilities{GeneratedKeys: true, BatchInserts: true},
}

// MySQL is the dialect for MySQL-protocol drivers.
var MySQL = Dialect{
	Name:               "mysql",
	InsertEvent:        insertEventQuestion,
	InsertProperty:     insertPropertyQuestion,
	InsertException:    insertExceptionQuestion,
	SelectLastInsertID: "SELECT LAST_INSERT_ID()",
	Placeholders:       PlaceholderQuestion,
	Caps:               Capabilities{GeneratedKeys: true, BatchInserts: true},
}

// Postgres is the dialect for postgres drivers. The wire protocol has no
// generated-key channel for plain INSERTs, so the default capabilities route
// key resolution through lastval().
var Postgres = Dialect{
	Name:               "postgres",
	InsertEvent:        insertEventDollar,
	InsertProperty:     insertPropertyDollar,
	InsertException:    insertExceptionDollar,
	SelectLastInsertID: "SELECT lastval()",
	Placeholders:       PlaceholderDollar,
	Caps:               Capabilities{GeneratedKeys: false, BatchInserts: true},
}

var dialects = map[string]Dialect{
	SQLite.Name:   SQLite,
	MySQL.Name:    MySQL,
	Postgres.Name: Postgres,
}

// DialectFor returns the dialect registered under name ("sqlite3", "mysql",
// "postgres").
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown dialect %q (known: sqlite3, mysql, postgres)", name)
	}
	return d, nil
}

// childRowWidth is the column count shared by both child tables.
const childRowWidth = 3

// childBatchSQL widens a single-row child insert to n rows. The per-row
// shape is fixed; only the repetition count varies, so this stays within the
// fixed statement shapes.
func (d Dialect) childBatchSQL(single string, n int) string {
	if n <= 1 {
		return single
	}
	var b strings.Builder
	b.WriteString(single)
	for row := 1; row < n; row++ {
		b.WriteString(", (")
		for col := 0; col < childRowWidth; col++ {
			if col > 0 {
				b.WriteString(", ")
			}
			if d.Placeholders == PlaceholderDollar {
				fmt.Fprintf(&b, "$%d", row*childRowWidth+col+1)
			} else {
				b.WriteByte('?')
			}
		}
		b.WriteByte(')')
	}
	return b.String()
}
