package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders the deterministic part of a scenario run: every pass
// with its dispatches and errors, then the final rows. Error messages,
// timestamps and durations are left out.
func FormatTrace(name string, result *Result) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "scenario %s\n", name)
	for _, p := range result.Passes {
		fmt.Fprintf(&buf, "pass %d run=%s updated=%d skipped=%d\n", p.Number, p.RunID, p.Updated, p.Skipped)
		for _, d := range p.Dispatches {
			fmt.Fprintf(&buf, "  dispatch %d %s %s %s %s/%d\n", d.Seq, d.Phase, d.Recipient, d.DocumentID, d.Table, d.Row)
		}
		for _, e := range p.Errors {
			fmt.Fprintf(&buf, "  error %s %s/%d", e.Code, e.Table, e.Row)
			if e.DocumentID != "" {
				fmt.Fprintf(&buf, " doc=%s", e.DocumentID)
			}
			buf.WriteByte('\n')
		}
	}

	buf.WriteString("state\n")
	for _, d := range result.State.Documents {
		fmt.Fprintf(&buf, "  document_rows/%d %s %s kind=%q\n", d.Index, d.DocumentID, d.Status, string(d.ErrorKind))
	}
	for _, q := range result.State.Queue {
		fmt.Fprintf(&buf, "  queue_rows/%d %s count=%d status=%q queue=%q file_ids=%q dispatched=%q\n",
			q.Index, q.ControlNumber, q.Count, q.Status, q.Queue, q.FileIDs, q.Dispatched)
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result, or an error if the scenario could not execute.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, FormatTrace(scenarioName, result))
}
