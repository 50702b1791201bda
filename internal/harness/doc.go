// Package harness provides scenario-driven conformance testing for the
// three-table insert pipeline.
//
// The harness loads YAML scenarios describing logging events, appends them
// through a real Appender into a fresh in-memory SQLite database, and
// validates the persisted rows against the scenario's expectations.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	policy: warn
//	batch_inserts: true
//	events:
//	  - timestamp: 1724572800000
//	    message: "charge failed"
//	    logger: com.example.Billing
//	    level: ERROR
//	    thread: worker-7
//	    context: { env: staging }
//	    properties: { env: prod }
//	    throwable:
//	      - "java.lang.IllegalStateException: boom"
//	    caller:
//	      - { file: Billing.java, class: com.example.Billing, method: charge, line: 88 }
//	expect:
//	  - type: row_count
//	    table: logging_event
//	    count: 1
//	  - type: property_value
//	    event: 1
//	    key: env
//	    value: prod
//
// # Expectation Types
//
// The following expectation types are supported:
//
//   - row_count: Verifies a table holds exactly N rows
//   - property_value: Verifies the merged property stored for an event
//   - trace_line: Verifies the throwable line stored at a given index
//   - reference_mask: Verifies the parent row's reference_flag value
//   - caller_absent: Verifies all four caller columns are NULL
//   - caller_line: Verifies the textual caller_line column
//
// Expectations address events by their 1-based position in the scenario's
// events list; the harness maps positions to the generated row ids.
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite database, and events
// without an explicit timestamp draw reproducible epoch-millisecond values
// from testutil.DeterministicClock. Identical scenarios therefore produce
// byte-identical table snapshots across runs, which is what makes golden
// file comparison possible.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/boom.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
