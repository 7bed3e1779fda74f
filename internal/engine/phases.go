package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/status"
)

// TransitionKind tags the outcome of a document transition.
type TransitionKind int

const (
	// Advanced means the row moved to a new status.
	Advanced TransitionKind = iota + 1
	// AlreadyInPhase means the row stays where it is. Not an error.
	AlreadyInPhase
	// Failed means the operation failed; see Transition.Err.
	Failed
)

// String returns the kind name.
func (k TransitionKind) String() string {
	switch k {
	case Advanced:
		return "advanced"
	case AlreadyInPhase:
		return "already_in_phase"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("TransitionKind(%d)", int(k))
	}
}

// Transition describes what one step did to a document row.
type Transition struct {
	Kind   TransitionKind
	From   approval.Status
	To     approval.Status
	Reason string
	Err    error
}

// Step is the outcome of one transition function.
type Step struct {
	// Row is the updated row.
	Row approval.DocumentRow

	// Transition tags what happened.
	Transition Transition

	// Changed reports whether Row must be written back.
	Changed bool

	// Dispatched is the request issued, if any.
	Dispatched *Dispatch

	// Deferred is the gate's refusal when a dispatch was held back.
	Deferred error
}

// Machine runs the two-phase document state machine:
//
//	PENDING → REQUESTING_INITIAL → INITIAL_STAMPED → REQUESTING_SIGNATURE → SIGNATURE_STAMPED
//
// ERROR is reachable from every non-terminal state and is left by the next
// successful refresh or dispatch.
type Machine struct {
	svc    docsvc.Service
	clock  Clock
	logger *slog.Logger
}

// NewMachine creates a Machine over svc.
func NewMachine(svc docsvc.Service, clock Clock, logger *slog.Logger) *Machine {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{svc: svc, clock: clock, logger: logger}
}

// Refresh moves row to the aggregate status of its document history.
//
// Only a strictly more advanced status is written, so a row never moves
// back. An ERROR row recorded by a service failure takes the aggregate status
// unconditionally; one recorded by a validation failure leaves ERROR only
// when the history has moved past PENDING. A row already failed for its
// invalid document id is left as recorded. A failed status query records
// LastError and keeps the status.
func (m *Machine) Refresh(ctx context.Context, row approval.DocumentRow) Step {
	from := row.Status
	if row.Status.Terminal() {
		return Step{Row: row, Transition: Transition{Kind: AlreadyInPhase, From: from, To: from, Reason: "terminal"}}
	}
	if err := approval.ValidateDocumentID(row.DocumentID); err != nil {
		if row.Status == approval.StatusError && row.ErrorKind == approval.ErrorKindValidation && row.LastError == err.Error() {
			return Step{Row: row, Transition: Transition{Kind: AlreadyInPhase, From: from, To: from, Reason: "validation error pending correction"}}
		}
		return m.fail(row, err)
	}

	events, err := m.svc.RequestStatus(ctx, row.DocumentID)
	if err != nil {
		out := row
		out.LastError = err.Error()
		step := Step{Row: out, Transition: Transition{Kind: Failed, From: from, To: from, Reason: "status query failed", Err: err}}
		if out.LastError != row.LastError {
			out.LastUpdated = m.clock.Now()
			step.Row = out
			step.Changed = true
		}
		return step
	}
	canonical := status.Canonicalize(events, "")

	out := row
	switch {
	case row.Status == approval.StatusError && row.ErrorKind == approval.ErrorKindValidation:
		if canonical == approval.StatusPending {
			return Step{Row: row, Transition: Transition{Kind: AlreadyInPhase, From: from, To: from, Reason: "validation error pending correction"}}
		}
		out.Status = canonical
	case row.Status == approval.StatusError:
		out.Status = canonical
	case canonical.MoreAdvancedThan(row.Status):
		out.Status = canonical
	default:
		if row.LastError == "" {
			return Step{Row: row, Transition: Transition{Kind: AlreadyInPhase, From: from, To: from, Reason: "no newer status"}}
		}
		// A query that failed earlier succeeded now.
		out.LastError = ""
		out.LastUpdated = m.clock.Now()
		return Step{Row: out, Changed: true, Transition: Transition{Kind: AlreadyInPhase, From: from, To: from, Reason: "no newer status"}}
	}

	out.LastError = ""
	out.ErrorKind = approval.ErrorKindNone
	out.LastUpdated = m.clock.Now()
	return Step{
		Row:        out,
		Changed:    true,
		Transition: Transition{Kind: Advanced, From: from, To: out.Status, Reason: "refreshed from history"},
	}
}

// SignatureReady reports whether row can advance from INITIAL_STAMPED.
func SignatureReady(row approval.DocumentRow) bool {
	return row.Status == approval.StatusInitialStamped &&
		row.NeedsSignature &&
		strings.TrimSpace(row.SignatureRecipient) != ""
}

// PendingPhase returns the phase a PENDING row advances into, if any.
func PendingPhase(row approval.DocumentRow) (approval.Phase, bool) {
	if row.Status != approval.StatusPending {
		return 0, false
	}
	switch {
	case row.NeedsInitial && strings.TrimSpace(row.InitialRecipient) != "":
		return approval.PhaseInitial, true
	case !row.NeedsInitial && row.NeedsSignature && strings.TrimSpace(row.SignatureRecipient) != "":
		return approval.PhaseSignature, true
	default:
		return 0, false
	}
}

// AdvanceInitialStamped requests the signature stamp for an INITIAL_STAMPED
// row.
func (m *Machine) AdvanceInitialStamped(ctx context.Context, row approval.DocumentRow, names *Resolver, gate Gate) Step {
	if !SignatureReady(row) {
		return Step{Row: row, Transition: Transition{Kind: AlreadyInPhase, From: row.Status, To: row.Status, Reason: "not ready for signature"}}
	}
	return m.request(ctx, row, approval.PhaseSignature, row.SignatureRecipient, names, gate)
}

// AdvancePending requests the first stamp a PENDING row needs: the initial
// stamp, or the signature stamp when no initial phase is required.
func (m *Machine) AdvancePending(ctx context.Context, row approval.DocumentRow, names *Resolver, gate Gate) Step {
	phase, ok := PendingPhase(row)
	if !ok {
		return Step{Row: row, Transition: Transition{Kind: AlreadyInPhase, From: row.Status, To: row.Status, Reason: "nothing to request"}}
	}
	recipient := row.InitialRecipient
	if phase == approval.PhaseSignature {
		recipient = row.SignatureRecipient
	}
	return m.request(ctx, row, phase, recipient, names, gate)
}

func (m *Machine) request(ctx context.Context, row approval.DocumentRow, phase approval.Phase, recipient string, names *Resolver, gate Gate) Step {
	if err := approval.ValidateDocumentID(row.DocumentID); err != nil {
		return m.fail(row, err)
	}
	email, err := names.Resolve(ctx, recipient)
	if err != nil {
		return m.fail(row, err)
	}
	if err := approval.ValidateEmail(email); err != nil {
		return m.fail(row, err)
	}
	if gate != nil {
		if err := gate(row.DocumentID, email); err != nil {
			return Step{
				Row:        row,
				Deferred:   err,
				Transition: Transition{Kind: AlreadyInPhase, From: row.Status, To: row.Status, Reason: "deferred: " + err.Error()},
			}
		}
	}
	if err := docsvc.RequestStamp(ctx, m.svc, phase, email, row.DocumentID); err != nil {
		return m.fail(row, err)
	}

	from := row.Status
	out := row
	out.Status = phase.Requesting()
	out.LastError = ""
	out.ErrorKind = approval.ErrorKindNone
	out.LastUpdated = m.clock.Now()
	m.logger.Info("stamp requested",
		"row", row.Index,
		"document", row.DocumentID,
		"recipient", email,
		"phase", phase.String(),
	)
	return Step{
		Row:     out,
		Changed: true,
		Dispatched: &Dispatch{
			Phase:      phase,
			Recipient:  email,
			DocumentID: row.DocumentID,
			Table:      "document_rows",
			Row:        row.Index,
		},
		Transition: Transition{Kind: Advanced, From: from, To: out.Status, Reason: phase.String() + " stamp requested"},
	}
}

// fail moves row to ERROR with err recorded.
func (m *Machine) fail(row approval.DocumentRow, err error) Step {
	from := row.Status
	out := row
	out.Status = approval.StatusError
	out.LastError = err.Error()
	out.ErrorKind = approval.KindOf(err)
	out.LastUpdated = m.clock.Now()
	m.logger.Warn("document transition failed",
		"row", row.Index,
		"document", row.DocumentID,
		"from", from.String(),
		"error", err,
	)
	return Step{
		Row:        out,
		Changed:    true,
		Transition: Transition{Kind: Failed, From: from, To: approval.StatusError, Reason: err.Error(), Err: err},
	}
}

// Resolver maps recipients stored as display names or initials to email
// addresses through the personality directory. The directory is fetched on
// first use and kept for the resolver's lifetime, normally one run.
type Resolver struct {
	svc docsvc.Service

	once sync.Once
	dir  *docsvc.Directory
	err  error
}

// NewResolver creates a resolver over svc.
func NewResolver(svc docsvc.Service) *Resolver {
	return &Resolver{svc: svc}
}

// Resolve returns the email address of recipient. Addresses pass through
// without fetching the directory.
func (r *Resolver) Resolve(ctx context.Context, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if strings.Contains(recipient, "@") {
		return recipient, nil
	}
	if recipient == "" {
		return "", &approval.ValidationError{Field: "recipient", Value: recipient, Reason: "empty"}
	}
	r.once.Do(func() {
		people, err := r.svc.Personalities(ctx)
		if err != nil {
			r.err = fmt.Errorf("load personalities: %w", err)
			return
		}
		r.dir = docsvc.NewDirectory(people)
	})
	if r.err != nil {
		return "", r.err
	}
	email, ok := r.dir.Resolve(recipient)
	if !ok {
		return "", &approval.ValidationError{Field: "recipient", Value: recipient, Reason: "not found in directory"}
	}
	return email, nil
}
