// Package harness runs reconciliation scenarios against the real driver.
//
// A scenario seeds the row store and an in-memory Document Service, runs one
// or more reconciliation passes, and asserts on the stamp requests issued and
// the rows left behind. Every pass is also checked against the operational
// Principles.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	run_id: scenario-run
//	engine:
//	  max_dispatches_per_run: 0
//	  queue_phase: signature
//	  variants: [documents, queue]
//	people:
//	  - { email: a@x.com, name: Ana Cruz, initials: AC, level: Supervisor }
//	documents:
//	  - document_id: doc1
//	    needs_initial: true
//	    initial_recipient: a@x.com
//	queue:
//	  - template_id: tmpl-1
//	    control_number: 25-0001
//	    queue: "a@x.com,b@x.com"
//	    file_ids: "q1"
//	histories:
//	  q1:
//	    - { email: a@x.com, label: "Requesting signature" }
//	passes:
//	  - expect: { updated: 1, dispatches: 1 }
//	  - stamps:
//	      - { document_id: doc1, email: a@x.com, phase: initial }
//	    fail_status: { q1: "timeout" }
//	assertions:
//	  - type: dispatched_to
//	    recipient: a@x.com
//	    document_id: doc1
//	    phase: initial
//	  - type: document_state
//	    document_id: doc1
//	    expect: { status: REQUESTING_INITIAL }
//
// # Assertion Types
//
//   - dispatch_count: Verifies the number of stamp requests, optionally for one pass
//   - dispatched_to: Verifies a stamp request reached a recipient
//   - queue_state: Verifies fields of a queue row by index
//   - document_state: Verifies fields of a document row by document id
//
// # Deterministic Testing
//
// All scenarios execute with a deterministic clock and a fixed run ID, so
// traces are identical across runs and can be compared with golden files
// (see FormatTrace and RunWithGolden).
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/queue_drain.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
