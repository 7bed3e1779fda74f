package harness

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type       string            // Assertion type for categorization
	Expected   string            // Human-readable expected outcome
	Actual     string            // Human-readable actual outcome
	Dispatches []engine.Dispatch // Dispatches for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Dispatches) > 0 {
		fmt.Fprintf(&buf, "\nDispatches:\n")
		for _, d := range e.Dispatches {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", d.Seq, d.Phase, d.Recipient, d.DocumentID)
		}
	}

	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDispatchCount:
			err = assertDispatchCount(result, assertion)
		case AssertDispatchedTo:
			err = assertDispatchedTo(result, assertion)
		case AssertQueueState:
			err = assertQueueState(result.State, assertion)
		case AssertDocumentState:
			err = assertDocumentState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func scopeOf(pass int) string {
	if pass == 0 {
		return "all passes"
	}
	return fmt.Sprintf("pass %d", pass)
}

// assertDispatchCount checks the number of stamp requests issued.
func assertDispatchCount(result *Result, a Assertion) error {
	got := result.Dispatches(a.Pass)
	if len(got) != a.Count {
		return &AssertionError{
			Type:       AssertDispatchCount,
			Expected:   fmt.Sprintf("%d dispatches in %s", a.Count, scopeOf(a.Pass)),
			Actual:     fmt.Sprintf("%d dispatches", len(got)),
			Dispatches: got,
		}
	}
	return nil
}

// assertDispatchedTo checks that a matching stamp request was issued.
// Recipients compare case-insensitively.
func assertDispatchedTo(result *Result, a Assertion) error {
	got := result.Dispatches(a.Pass)
	for _, d := range got {
		if !strings.EqualFold(d.Recipient, a.Recipient) {
			continue
		}
		if a.DocumentID != "" && d.DocumentID != a.DocumentID {
			continue
		}
		if a.Phase != "" && d.Phase.String() != strings.ToLower(a.Phase) {
			continue
		}
		return nil
	}

	want := a.Recipient
	if a.Phase != "" {
		want = a.Phase + " stamp for " + want
	}
	if a.DocumentID != "" {
		want += " on " + a.DocumentID
	}
	return &AssertionError{
		Type:       AssertDispatchedTo,
		Expected:   fmt.Sprintf("%s in %s", want, scopeOf(a.Pass)),
		Actual:     "not dispatched",
		Dispatches: got,
	}
}

// assertQueueState checks fields of the queue row at a.Row.
func assertQueueState(state State, a Assertion) error {
	for _, q := range state.Queue {
		if q.Index != a.Row {
			continue
		}
		fields := map[string]string{
			"template_id":    q.TemplateID,
			"control_number": q.ControlNumber,
			"count":          strconv.Itoa(q.Count),
			"status":         q.Status,
			"queue":          q.Queue,
			"file_ids":       q.FileIDs,
			"dispatched":     q.Dispatched,
			"last_error":     q.LastError,
		}
		return compareFields(AssertQueueState, fmt.Sprintf("queue_rows/%d", q.Index), fields, a.Expect)
	}
	return &AssertionError{
		Type:     AssertQueueState,
		Expected: fmt.Sprintf("queue row %d", a.Row),
		Actual:   "row not found",
	}
}

// assertDocumentState checks fields of the row tracking a.DocumentID.
func assertDocumentState(state State, a Assertion) error {
	for _, d := range state.Documents {
		if d.DocumentID != a.DocumentID {
			continue
		}
		fields := map[string]string{
			"status":              d.Status.String(),
			"error_kind":          string(d.ErrorKind),
			"last_error":          d.LastError,
			"initial_recipient":   d.InitialRecipient,
			"signature_recipient": d.SignatureRecipient,
		}
		return compareFields(AssertDocumentState, "document "+d.DocumentID, fields, a.Expect)
	}
	return &AssertionError{
		Type:     AssertDocumentState,
		Expected: fmt.Sprintf("document row for %s", a.DocumentID),
		Actual:   "row not found",
	}
}

// compareFields checks expected values using subset semantics. Statuses
// compare by meaning, so a canonical name matches its display label.
func compareFields(kind, what string, actual, expected map[string]string) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := expected[key]
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q to exist on %s", key, what),
				Actual:   "unknown field",
			}
		}
		if key == "status" && statusEqual(want, got) {
			continue
		}
		if got != want {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s %s = %q", what, key, want),
				Actual:   fmt.Sprintf("%s = %q", key, got),
			}
		}
	}
	return nil
}

func statusEqual(a, b string) bool {
	sa, okA := approval.ParseStatus(a)
	sb, okB := approval.ParseStatus(b)
	return okA && okB && sa == sb
}
