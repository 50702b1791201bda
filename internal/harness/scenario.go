package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlog/internal/appender"
)

// Scenario defines a conformance test case.
// Loaded from YAML files, typically in testdata/scenarios/.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Policy selects the affected-row-count policy: "warn" (default) or
	// "abort".
	Policy string `yaml:"policy,omitempty"`

	// BatchInserts overrides the dialect's child-insert capability.
	// Nil keeps the dialect default (batched, for SQLite).
	BatchInserts *bool `yaml:"batch_inserts,omitempty"`

	// Events are appended in order, each through the full parent/children
	// insert sequence.
	Events []EventStep `yaml:"events"`

	// Expect lists row-level expectations evaluated after all events are
	// appended.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// EventStep describes one logging event to append.
//
// Message is the only required field. A zero timestamp is replaced by the
// deterministic clock, an empty logger by "root", and an empty level by
// "INFO", mirroring the ingest defaults.
type EventStep struct {
	Timestamp  int64             `yaml:"timestamp,omitempty"`
	Message    string            `yaml:"message"`
	Logger     string            `yaml:"logger,omitempty"`
	Level      string            `yaml:"level,omitempty"`
	Thread     string            `yaml:"thread,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
	Context    map[string]string `yaml:"context,omitempty"`
	Throwable  []string          `yaml:"throwable,omitempty"`
	Caller     []CallerStep      `yaml:"caller,omitempty"`
}

// CallerStep is one caller location frame. Only the first frame reaches the
// parent row; deeper frames exercise the drop behavior.
type CallerStep struct {
	File   string `yaml:"file"`
	Class  string `yaml:"class"`
	Method string `yaml:"method"`
	Line   int    `yaml:"line"`
}

// Expectation types.
const (
	// AssertRowCount verifies a table holds exactly Count rows.
	AssertRowCount = "row_count"

	// AssertPropertyValue verifies the merged property stored for an event.
	AssertPropertyValue = "property_value"

	// AssertTraceLine verifies the throwable line stored at a given index.
	AssertTraceLine = "trace_line"

	// AssertReferenceMask verifies the parent row's reference_flag value.
	AssertReferenceMask = "reference_mask"

	// AssertCallerAbsent verifies all four caller columns are NULL.
	AssertCallerAbsent = "caller_absent"

	// AssertCallerLine verifies the textual caller_line column.
	AssertCallerLine = "caller_line"
)

// Expectation is a single assertion against the persisted rows.
// Event addresses scenario events by 1-based position.
type Expectation struct {
	Type  string `yaml:"type"`
	Table string `yaml:"table,omitempty"` // row_count
	Count int    `yaml:"count,omitempty"` // row_count
	Event int    `yaml:"event,omitempty"` // all per-event types
	Key   string `yaml:"key,omitempty"`   // property_value
	Value string `yaml:"value,omitempty"` // property_value
	Index int    `yaml:"index,omitempty"` // trace_line
	Line  string `yaml:"line,omitempty"`  // trace_line, caller_line
	Mask  int    `yaml:"mask,omitempty"`  // reference_mask
}

// LoadScenario reads and validates a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks required fields and expectation well-formedness.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Policy {
	case "", "warn", "abort":
	default:
		return fmt.Errorf("policy must be %q or %q, got %q", "warn", "abort", s.Policy)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required")
	}
	for i, ev := range s.Events {
		if ev.Message == "" {
			return fmt.Errorf("events[%d]: message is required", i)
		}
		if ev.Timestamp < 0 {
			return fmt.Errorf("events[%d]: timestamp must not be negative", i)
		}
	}
	for i, e := range s.Expect {
		if err := validateExpectation(i, e, len(s.Events)); err != nil {
			return err
		}
	}
	return nil
}

// validateExpectation checks a single expectation's required fields.
func validateExpectation(i int, e Expectation, events int) error {
	requireEvent := func() error {
		if e.Event < 1 || e.Event > events {
			return fmt.Errorf("expect[%d]: event must be between 1 and %d, got %d", i, events, e.Event)
		}
		return nil
	}

	switch e.Type {
	case AssertRowCount:
		switch e.Table {
		case appender.TableEvent, appender.TableProperty, appender.TableException:
		default:
			return fmt.Errorf("expect[%d]: row_count table must be one of the three logging tables, got %q", i, e.Table)
		}
		if e.Count < 0 {
			return fmt.Errorf("expect[%d]: count must not be negative", i)
		}
	case AssertPropertyValue:
		if err := requireEvent(); err != nil {
			return err
		}
		if e.Key == "" {
			return fmt.Errorf("expect[%d]: property_value requires key", i)
		}
	case AssertTraceLine:
		if err := requireEvent(); err != nil {
			return err
		}
		if e.Index < 0 {
			return fmt.Errorf("expect[%d]: index must not be negative", i)
		}
		if e.Line == "" {
			return fmt.Errorf("expect[%d]: trace_line requires line", i)
		}
	case AssertReferenceMask:
		if err := requireEvent(); err != nil {
			return err
		}
	case AssertCallerAbsent:
		if err := requireEvent(); err != nil {
			return err
		}
	case AssertCallerLine:
		if err := requireEvent(); err != nil {
			return err
		}
		if e.Line == "" {
			return fmt.Errorf("expect[%d]: caller_line requires line", i)
		}
	default:
		return fmt.Errorf("expect[%d]: unknown expectation type %q", i, e.Type)
	}
	return nil
}
