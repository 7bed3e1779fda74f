package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/status"
)

// Dispatch is one stamp request issued during a run.
type Dispatch struct {
	Seq        int64          `json:"seq"`
	Phase      approval.Phase `json:"phase"`
	Recipient  string         `json:"recipient"`
	DocumentID string         `json:"document_id"`
	Table      string         `json:"table"`
	Row        int64          `json:"row"`
}

// Advance is the outcome of one Policy pass over a queue row.
type Advance struct {
	// Row is the updated row. Equal to the input when Changed is false.
	Row approval.QueueRow

	// Changed reports whether Row differs from the input and must be written.
	Changed bool

	// Dispatched is the request issued this pass, if any.
	Dispatched *Dispatch

	// Removed lists recipients that completed the phase this pass.
	Removed []string

	// Deferred is the gate's refusal when a dispatch was held back.
	Deferred error

	// Failures are the recipient-level errors recorded this pass: invalid
	// addresses and failed stamp requests.
	Failures []error
}

// Gate is consulted right before a dispatch. A non-nil error holds the
// dispatch back until a later pass and ends the scan.
type Gate func(documentID, recipient string) error

// Policy advances queue rows one recipient at a time.
//
// Each pass issues at most one stamp request per row: batches are scanned in
// order and the scan stops at the first batch with outstanding work.
// Completed recipients are removed from every batch scanned before the stop.
type Policy struct {
	svc    docsvc.Service
	phase  approval.Phase
	clock  Clock
	logger *slog.Logger
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithPhase binds the policy to phase. Default: approval.PhaseSignature.
func WithPhase(phase approval.Phase) PolicyOption {
	return func(p *Policy) {
		p.phase = phase
	}
}

// WithPolicyClock sets the clock used for LastUpdated.
func WithPolicyClock(c Clock) PolicyOption {
	return func(p *Policy) {
		p.clock = c
	}
}

// WithPolicyLogger sets the logger.
func WithPolicyLogger(l *slog.Logger) PolicyOption {
	return func(p *Policy) {
		p.logger = l
	}
}

// NewPolicy creates a signature-phase policy over svc.
func NewPolicy(svc docsvc.Service, opts ...PolicyOption) *Policy {
	p := &Policy{
		svc:    svc,
		phase:  approval.PhaseSignature,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Phase returns the phase the policy dispatches for.
func (p *Policy) Phase() approval.Phase {
	return p.phase
}

// Advance runs one pass over row without a gate.
func (p *Policy) Advance(ctx context.Context, row approval.QueueRow) (Advance, error) {
	return p.AdvanceGated(ctx, row, nil)
}

// AdvanceGated runs one pass over row, consulting gate before dispatching.
//
// A status query failure returns the error with the row untouched. A failed
// dispatch sets the row to ERROR but still keeps the removals made so far.
func (p *Policy) AdvanceGated(ctx context.Context, row approval.QueueRow, gate Gate) (Advance, error) {
	out := row.Clone()
	adv := Advance{Row: row}

	var (
		kept       []approval.Batch
		active     bool
		inProgress bool
		failed     bool
		passErrs   []error
	)
	for i, b := range out.Batches {
		if active {
			kept = append(kept, out.Batches[i:]...)
			break
		}
		if !b.Active() {
			continue
		}
		if b.DocumentID == "" {
			p.logger.Debug("batch has no bound document, skipping",
				"row", row.Index,
				"batch", i,
			)
			kept = append(kept, b)
			continue
		}

		events, err := p.svc.RequestStatus(ctx, b.DocumentID)
		if err != nil {
			return adv, err
		}
		p.logger.Debug("batch history",
			"row", row.Index,
			"document", b.DocumentID,
			"events", status.Describe(events),
		)

		var survivors []string
		for _, r := range b.Recipients {
			st := status.Canonicalize(events, r)
			if st.AtLeast(p.phase.Completed()) {
				adv.Removed = append(adv.Removed, r)
				continue
			}
			survivors = append(survivors, r)

			if st != approval.StatusPending || slices.Contains(out.Dispatched, r) {
				out.Dispatched = addRecipient(out.Dispatched, r)
				active = true
				inProgress = true
				continue
			}
			if active {
				continue
			}

			if err := approval.ValidateEmail(r); err != nil {
				p.logger.Warn("skipping invalid recipient",
					"row", row.Index,
					"document", b.DocumentID,
					"recipient", r,
					"error", err,
				)
				passErrs = append(passErrs, err)
				continue
			}
			if gate != nil {
				if err := gate(b.DocumentID, r); err != nil {
					adv.Deferred = err
					active = true
					continue
				}
			}
			if err := docsvc.RequestStamp(ctx, p.svc, p.phase, r, b.DocumentID); err != nil {
				p.logger.Error("stamp request failed",
					"row", row.Index,
					"document", b.DocumentID,
					"recipient", r,
					"phase", p.phase.String(),
					"error", err,
				)
				passErrs = append(passErrs, err)
				failed = true
				active = true
				continue
			}
			out.Dispatched = addRecipient(out.Dispatched, r)
			adv.Dispatched = &Dispatch{
				Phase:      p.phase,
				Recipient:  r,
				DocumentID: b.DocumentID,
				Table:      "queue_rows",
				Row:        row.Index,
			}
			active = true
		}

		if len(survivors) == 0 {
			out.Dispatched = slices.DeleteFunc(out.Dispatched, func(d string) bool {
				return slices.Contains(b.Recipients, d)
			})
			continue
		}
		kept = append(kept, approval.Batch{Recipients: survivors, DocumentID: b.DocumentID})
	}
	out.Batches = kept

	switch {
	case failed:
		out.Status = approval.StatusError
	case len(out.Batches) == 0:
		out.Batches = nil
		out.Dispatched = nil
		out.Status = approval.Forward(out.Status, p.phase.Completed())
	case adv.Dispatched != nil || inProgress:
		out.Status = approval.Forward(out.Status, p.phase.Requesting())
	}

	switch {
	case len(passErrs) > 0:
		out.LastError = errors.Join(passErrs...).Error()
	case adv.Dispatched != nil || len(out.Batches) == 0:
		out.LastError = ""
	case row.Status == approval.StatusError && out.Status != approval.StatusError:
		out.LastError = ""
	}

	adv.Failures = passErrs
	if sameQueueState(row, out) {
		return adv, nil
	}
	out.LastUpdated = p.clock.Now()
	adv.Row = out
	adv.Changed = true
	return adv, nil
}

func addRecipient(set []string, r string) []string {
	if slices.Contains(set, r) {
		return set
	}
	return append(set, r)
}

// sameQueueState compares the fields a pass can change.
func sameQueueState(a, b approval.QueueRow) bool {
	if a.Status != b.Status || a.LastError != b.LastError {
		return false
	}
	if !slices.Equal(a.Dispatched, b.Dispatched) {
		return false
	}
	return slices.EqualFunc(activeBatches(a.Batches), activeBatches(b.Batches), func(x, y approval.Batch) bool {
		return x.DocumentID == y.DocumentID && slices.Equal(x.Recipients, y.Recipients)
	})
}

func activeBatches(batches []approval.Batch) []approval.Batch {
	var out []approval.Batch
	for _, b := range batches {
		if b.Active() {
			out = append(out, b)
		}
	}
	return out
}
