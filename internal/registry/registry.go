// Package registry writes new work into the store: template submissions
// become recipient batches on queue rows and generated documents become
// tracked document rows. The reconciliation driver picks both up on its next
// pass.
//
// Every write happens under the same table locks the driver uses, so
// registration and reconciliation never interleave on a row.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/batch"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/engine"
	"github.com/D4NGK4/CHEDFC/internal/lock"
	"github.com/D4NGK4/CHEDFC/internal/status"
	"github.com/D4NGK4/CHEDFC/internal/store"
)

// Submission is one template registration.
type Submission struct {
	TemplateID string
	// Levels are approval levels in the order recipients are asked.
	Levels        []string
	IncludeAuthor bool
	Author        string
	// DocumentID is the generated document the new batch is bound to.
	DocumentID string
	// Fields replaces the row's template field list when non-empty.
	Fields string
}

// Registration is the outcome of Register.
type Registration struct {
	Index         int64    `json:"index"`
	ControlNumber string   `json:"control_number"`
	Count         int      `json:"count"`
	Recipients    []string `json:"recipients"`
	Created       bool     `json:"created"`
}

// TrackRequest describes a generated document to follow through both phases.
type TrackRequest struct {
	DocumentID         string
	FileName           string
	Author             string
	NeedsInitial       bool
	NeedsSignature     bool
	InitialRecipient   string
	SignatureRecipient string
}

// Tracking is the outcome of Track.
type Tracking struct {
	Index   int64           `json:"index"`
	Status  approval.Status `json:"status"`
	Created bool            `json:"created"`
}

// Registrar appends work to the store.
type Registrar struct {
	store  *store.Store
	svc    docsvc.Service
	locker lock.Locker
	codec  batch.Codec
	clock  engine.Clock
	logger *slog.Logger
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithLocker sets the row lock. Default: a lease locker on the store.
func WithLocker(l lock.Locker) Option {
	return func(r *Registrar) {
		r.locker = l
	}
}

// WithCodec sets the batch codec.
func WithCodec(c batch.Codec) Option {
	return func(r *Registrar) {
		r.codec = c
	}
}

// WithClock sets the clock used for years and timestamps.
func WithClock(c engine.Clock) Option {
	return func(r *Registrar) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registrar) {
		r.logger = l
	}
}

// New creates a Registrar.
func New(s *store.Store, svc docsvc.Service, opts ...Option) *Registrar {
	r := &Registrar{
		store:  s,
		svc:    svc,
		codec:  batch.DefaultCodec,
		clock:  engine.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.locker == nil {
		r.locker = store.NewLocker(s, engine.DefaultLockTTL, engine.DefaultLockTimeout)
	}
	return r
}

// ControlNumber formats the control number of the count-th registration of a
// template in year, as YY-NNNN.
func ControlNumber(year, count int) string {
	return fmt.Sprintf("%02d-%04d", year%100, count)
}

// Register resolves the submission's approvers and appends them as a new
// batch on the (template, current year) queue row, creating the row on the
// first registration of the year.
func (r *Registrar) Register(ctx context.Context, sub Submission) (Registration, error) {
	if strings.TrimSpace(sub.TemplateID) == "" {
		return Registration{}, &approval.ValidationError{Field: "template id", Value: sub.TemplateID, Reason: "empty"}
	}
	if err := approval.ValidateDocumentID(sub.DocumentID); err != nil {
		return Registration{}, err
	}

	people, err := r.svc.Personalities(ctx)
	if err != nil {
		return Registration{}, fmt.Errorf("register %s: load personalities: %w", sub.TemplateID, err)
	}
	recipients := ResolveApprovers(docsvc.NewDirectory(people), sub.Author, sub.Levels, sub.IncludeAuthor)
	if len(recipients) == 0 {
		return Registration{}, &approval.ValidationError{
			Field:  "levels",
			Value:  strings.Join(sub.Levels, ","),
			Reason: "no recipients resolved",
		}
	}
	for _, email := range recipients {
		if err := approval.ValidateEmail(email); err != nil {
			return Registration{}, err
		}
	}

	var reg Registration
	err = lock.With(ctx, r.locker, store.QueueLockKey, func(ctx context.Context) error {
		now := r.clock.Now()
		year := now.Year()
		added := approval.Batch{Recipients: recipients, DocumentID: strings.TrimSpace(sub.DocumentID)}

		rec, found, err := r.store.Queue().FindByTemplate(ctx, sub.TemplateID, year)
		if err != nil {
			return err
		}
		if !found {
			row := approval.QueueRow{
				TemplateID:    sub.TemplateID,
				Year:          year,
				Count:         1,
				ControlNumber: ControlNumber(year, 1),
				Fields:        sub.Fields,
				Batches:       []approval.Batch{added},
				Status:        approval.StatusPending,
				LastUpdated:   now,
			}
			idx, err := r.store.Queue().AppendRow(ctx, store.EncodeQueue(row, r.codec))
			if err != nil {
				return err
			}
			reg = Registration{Index: idx, ControlNumber: row.ControlNumber, Count: 1, Recipients: recipients, Created: true}
			return nil
		}

		row, err := rec.Decode(r.codec)
		if err != nil {
			return fmt.Errorf("queue row %d: %w", rec.Index, err)
		}
		if row.Drained() {
			// New work reopens a finished row.
			row.Status = approval.StatusPending
			row.LastError = ""
		}
		row.Count++
		row.ControlNumber = ControlNumber(year, row.Count)
		row.Batches = append(row.Batches, added)
		if sub.Fields != "" {
			row.Fields = sub.Fields
		}
		row.LastUpdated = now
		if err := r.store.Queue().WriteRow(ctx, rec.Index, store.EncodeQueue(row, r.codec)); err != nil {
			return err
		}
		reg = Registration{Index: rec.Index, ControlNumber: row.ControlNumber, Count: row.Count, Recipients: recipients}
		return nil
	})
	if err != nil {
		return Registration{}, fmt.Errorf("register %s: %w", sub.TemplateID, err)
	}

	r.logger.Info("template registered",
		"template", sub.TemplateID,
		"row", reg.Index,
		"control_number", reg.ControlNumber,
		"recipients", reg.Recipients,
	)
	return reg, nil
}

// Track records a generated document for the two-phase workflow. The row
// starts at the document's current aggregate status; when the status cannot
// be fetched it starts at PENDING and the next refresh corrects it. A document
// that is already tracked is updated in place and never moves back.
func (r *Registrar) Track(ctx context.Context, req TrackRequest) (Tracking, error) {
	if err := approval.ValidateDocumentID(req.DocumentID); err != nil {
		return Tracking{}, err
	}
	documentID := strings.TrimSpace(req.DocumentID)

	current := approval.StatusPending
	if events, err := r.svc.RequestStatus(ctx, documentID); err != nil {
		r.logger.Warn("status unavailable, tracking as pending", "document", documentID, "error", err)
	} else {
		current = status.Canonicalize(events, "")
	}

	var out Tracking
	err := lock.With(ctx, r.locker, store.DocumentLockKey, func(ctx context.Context) error {
		existing, found, err := r.store.Documents().FindByDocumentID(ctx, documentID)
		if err != nil {
			return err
		}

		row := approval.DocumentRow{
			DocumentID:         documentID,
			FileName:           req.FileName,
			Author:             req.Author,
			Status:             current,
			NeedsInitial:       req.NeedsInitial,
			NeedsSignature:     req.NeedsSignature,
			InitialRecipient:   strings.TrimSpace(req.InitialRecipient),
			SignatureRecipient: strings.TrimSpace(req.SignatureRecipient),
			LastUpdated:        r.clock.Now(),
		}
		if !found {
			idx, err := r.store.Documents().AppendRow(ctx, row)
			if err != nil {
				return err
			}
			out = Tracking{Index: idx, Status: row.Status, Created: true}
			return nil
		}

		if existing.Status != approval.StatusError {
			row.Status = approval.Forward(existing.Status, current)
		}
		if row.FileName == "" {
			row.FileName = existing.FileName
		}
		if row.Author == "" {
			row.Author = existing.Author
		}
		if err := r.store.Documents().WriteRow(ctx, existing.Index, row); err != nil {
			return err
		}
		out = Tracking{Index: existing.Index, Status: row.Status}
		return nil
	})
	if err != nil {
		return Tracking{}, fmt.Errorf("track %s: %w", documentID, err)
	}

	r.logger.Info("document tracked", "document", documentID, "row", out.Index, "status", out.Status.String())
	return out, nil
}

// Retry resets an ERROR document row to PENDING so the next pass refreshes
// and advances it again.
func (r *Registrar) Retry(ctx context.Context, index int64) (approval.DocumentRow, error) {
	var out approval.DocumentRow
	err := lock.With(ctx, r.locker, store.DocumentLockKey, func(ctx context.Context) error {
		row, err := r.store.Documents().ReadRow(ctx, index)
		if err != nil {
			return err
		}
		if row.Status != approval.StatusError {
			return fmt.Errorf("row is %s, not %s", row.Status, approval.StatusError)
		}
		row.Status = approval.StatusPending
		row.LastError = ""
		row.ErrorKind = approval.ErrorKindNone
		row.LastUpdated = r.clock.Now()
		if err := r.store.Documents().WriteRow(ctx, index, row); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return approval.DocumentRow{}, fmt.Errorf("retry row %d: %w", index, err)
	}
	r.logger.Info("document row reset", "row", index, "document", out.DocumentID)
	return out, nil
}
