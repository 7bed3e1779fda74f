package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/engine"
)

func sampleResult() *Result {
	r := NewResult()
	r.Passes = []PassTrace{
		{Number: 1, Dispatches: []engine.Dispatch{
			{Seq: 1, Phase: approval.PhaseInitial, Recipient: "a@x.com", DocumentID: "doc1"},
			{Seq: 2, Phase: approval.PhaseSignature, Recipient: "c@x.com", DocumentID: "q1"},
		}},
		{Number: 2, Dispatches: []engine.Dispatch{
			{Seq: 3, Phase: approval.PhaseSignature, Recipient: "b@x.com", DocumentID: "doc1"},
		}},
	}
	r.State = State{
		Documents: []DocumentState{
			{Index: 1, DocumentID: "doc1", Status: approval.StatusRequestingSignature},
			{Index: 2, DocumentID: "doc2", Status: approval.StatusError, ErrorKind: approval.ErrorKindValidation, LastError: "bad"},
		},
		Queue: []QueueState{
			{Index: 1, TemplateID: "tmpl-1", ControlNumber: "25-0001", Count: 2, Status: approval.LabelRequestingSignature, Queue: "c@x.com", FileIDs: "q1", Dispatched: "c@x.com"},
		},
	}
	return r
}

// ============================================================================
// dispatch_count
// ============================================================================

func TestAssertDispatchCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertDispatchCount(r, Assertion{Count: 3}))
	assert.NoError(t, assertDispatchCount(r, Assertion{Pass: 1, Count: 2}))
	assert.NoError(t, assertDispatchCount(r, Assertion{Pass: 2, Count: 1}))

	err := assertDispatchCount(r, Assertion{Pass: 2, Count: 0})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "0 dispatches in pass 2", ae.Expected)
	assert.Equal(t, "1 dispatches", ae.Actual)
}

// ============================================================================
// dispatched_to
// ============================================================================

func TestAssertDispatchedTo(t *testing.T) {
	r := sampleResult()

	tests := []struct {
		name  string
		a     Assertion
		found bool
	}{
		{"recipient only", Assertion{Recipient: "a@x.com"}, true},
		{"case-insensitive", Assertion{Recipient: "A@X.com"}, true},
		{"with document", Assertion{Recipient: "b@x.com", DocumentID: "doc1"}, true},
		{"with phase", Assertion{Recipient: "c@x.com", Phase: "SIGNATURE"}, true},
		{"scoped to pass", Assertion{Recipient: "b@x.com", Pass: 2}, true},
		{"wrong pass", Assertion{Recipient: "b@x.com", Pass: 1}, false},
		{"wrong phase", Assertion{Recipient: "a@x.com", Phase: "signature"}, false},
		{"wrong document", Assertion{Recipient: "a@x.com", DocumentID: "q1"}, false},
		{"never dispatched", Assertion{Recipient: "z@x.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertDispatchedTo(r, tt.a)
			if tt.found {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertDispatchedTo_Message(t *testing.T) {
	err := assertDispatchedTo(sampleResult(), Assertion{Recipient: "z@x.com", DocumentID: "doc9", Phase: "initial", Pass: 1})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "initial stamp for z@x.com on doc9 in pass 1", ae.Expected)
	assert.Equal(t, "not dispatched", ae.Actual)
	assert.Len(t, ae.Dispatches, 2)
}

// ============================================================================
// queue_state / document_state
// ============================================================================

func TestAssertQueueState(t *testing.T) {
	state := sampleResult().State

	assert.NoError(t, assertQueueState(state, Assertion{Row: 1, Expect: map[string]string{
		"status":         "REQUESTING_SIGNATURE",
		"count":          "2",
		"control_number": "25-0001",
		"dispatched":     "c@x.com",
	}}))
	assert.NoError(t, assertQueueState(state, Assertion{Row: 1, Expect: map[string]string{"status": "requesting signature"}}))

	err := assertQueueState(state, Assertion{Row: 1, Expect: map[string]string{"queue": ""}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, `queue_rows/1 queue = ""`, ae.Expected)
	assert.Equal(t, `queue = "c@x.com"`, ae.Actual)

	assert.Error(t, assertQueueState(state, Assertion{Row: 1, Expect: map[string]string{"colour": "red"}}))
	assert.Error(t, assertQueueState(state, Assertion{Row: 7, Expect: map[string]string{"status": "Pending"}}))
}

func TestAssertDocumentState(t *testing.T) {
	state := sampleResult().State

	assert.NoError(t, assertDocumentState(state, Assertion{DocumentID: "doc2", Expect: map[string]string{
		"status":     "Error",
		"error_kind": "validation",
		"last_error": "bad",
	}}))
	assert.Error(t, assertDocumentState(state, Assertion{DocumentID: "doc1", Expect: map[string]string{"status": "SIGNATURE_STAMPED"}}))
	assert.Error(t, assertDocumentState(state, Assertion{DocumentID: "doc1", Expect: map[string]string{"status": "nonsense"}}))

	err := assertDocumentState(state, Assertion{DocumentID: "doc9", Expect: map[string]string{"status": "PENDING"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "row not found", ae.Actual)
}

// ============================================================================
// EvaluateAssertions
// ============================================================================

func TestEvaluateAssertions_AllPass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertDispatchCount, Count: 3},
		{Type: AssertDispatchedTo, Recipient: "a@x.com"},
		{Type: AssertQueueState, Row: 1, Expect: map[string]string{"file_ids": "q1"}},
		{Type: AssertDocumentState, DocumentID: "doc1", Expect: map[string]string{"status": "REQUESTING_SIGNATURE"}},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertDispatchCount, Count: 3},
		{Type: AssertDispatchCount, Count: 9},
		{Type: AssertDispatchedTo, Recipient: "z@x.com"},
	})
	assert.Len(t, errs, 2)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{{Type: "trace_order"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "trace_order"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertDispatchCount,
		Expected: "1 dispatches in all passes",
		Actual:   "2 dispatches",
		Dispatches: []engine.Dispatch{
			{Seq: 1, Phase: approval.PhaseInitial, Recipient: "a@x.com", DocumentID: "doc1"},
		},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: dispatch_count")
	assert.Contains(t, msg, "  Expected: 1 dispatches in all passes\n")
	assert.Contains(t, msg, "  Actual: 2 dispatches\n")
	assert.Contains(t, msg, "  [1] initial a@x.com doc1\n")
}
