package harness

import (
	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/engine"
)

const (
	variantDocuments = "documents"
	variantQueue     = "queue"
)

// PassTrace is the deterministic part of one pass report. Timestamps and
// durations are left out so traces compare byte for byte.
type PassTrace struct {
	Number     int               `json:"number"`
	RunID      string            `json:"run_id"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Dispatches []engine.Dispatch `json:"dispatches"`
	Errors     []engine.RunError `json:"errors"`
}

// QueueState is a queue row as persisted after the last pass.
type QueueState struct {
	Index         int64  `json:"index"`
	TemplateID    string `json:"template_id"`
	ControlNumber string `json:"control_number"`
	Count         int    `json:"count"`
	Status        string `json:"status"`
	Queue         string `json:"queue"`
	FileIDs       string `json:"file_ids"`
	Dispatched    string `json:"dispatched"`
	LastError     string `json:"last_error,omitempty"`
}

// DocumentState is a document row as persisted after the last pass.
type DocumentState struct {
	Index              int64              `json:"index"`
	DocumentID         string             `json:"document_id"`
	Status             approval.Status    `json:"status"`
	ErrorKind          approval.ErrorKind `json:"error_kind,omitempty"`
	LastError          string             `json:"last_error,omitempty"`
	InitialRecipient   string             `json:"initial_recipient,omitempty"`
	SignatureRecipient string             `json:"signature_recipient,omitempty"`
}

// State is a snapshot of both tables.
type State struct {
	Queue     []QueueState    `json:"queue"`
	Documents []DocumentState `json:"documents"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every pass expectation, principle and
	// assertion held.
	Pass bool `json:"pass"`

	// Passes contains one trace per driver run, in order.
	Passes []PassTrace `json:"passes"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State contains the final rows for state assertions.
	State State `json:"state"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Passes: []PassTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Dispatches returns the dispatches of pass n (1-based), or of every pass
// when n is zero.
func (r *Result) Dispatches(n int) []engine.Dispatch {
	var out []engine.Dispatch
	for _, p := range r.Passes {
		if n == 0 || p.Number == n {
			out = append(out, p.Dispatches...)
		}
	}
	return out
}

func traceOf(number int, report engine.RunReport) PassTrace {
	return PassTrace{
		Number:     number,
		RunID:      report.RunID,
		Updated:    report.UpdatedCount,
		Skipped:    report.Skipped,
		Dispatches: report.Dispatches,
		Errors:     report.Errors,
	}
}
