package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/batch"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/lock"
	"github.com/D4NGK4/CHEDFC/internal/store"
)

const instrumentationName = "github.com/D4NGK4/CHEDFC/internal/engine"

// Default lease settings for the store locker used when no Locker is given.
const (
	DefaultLockTTL     = 30 * time.Second
	DefaultLockTimeout = 10 * time.Second
)

// RunReport summarizes one reconciliation pass.
type RunReport struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	UpdatedCount int           `json:"updated_count"`
	Dispatches   []Dispatch    `json:"dispatches"`
	Skipped      int           `json:"skipped"`
	Errors       []RunError    `json:"errors"`
}

// OK reports whether the run recorded no errors.
func (r RunReport) OK() bool {
	return len(r.Errors) == 0
}

// Driver runs reconciliation passes over the store.
//
// A pass runs, in order: refresh every document row, advance the first
// INITIAL_STAMPED row, advance the first PENDING row, then one dispatch-policy
// pass per queue row. Row failures are recorded and the pass continues. The
// driver never retries within a pass; the next pass starts again from the
// persisted rows.
//
// Every row write happens under the Locker, as lock → read → mutate → write.
type Driver struct {
	store   *store.Store
	svc     docsvc.Service
	locker  lock.Locker
	codec   batch.Codec
	policy  *Policy
	machine *Machine
	clock   Clock
	seq     *Sequence
	runIDs  RunIDGenerator
	guard   *DispatchGuard
	logger  *slog.Logger

	phase         approval.Phase
	maxDispatches int
	documents     bool
	queue         bool

	tracer    trace.Tracer
	dispatchN metric.Int64Counter
	rowErrN   metric.Int64Counter
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLocker sets the row lock. Default: a lease locker on the store.
func WithLocker(l lock.Locker) DriverOption {
	return func(d *Driver) {
		d.locker = l
	}
}

// WithCodec sets the batch codec for queue rows.
func WithCodec(c batch.Codec) DriverOption {
	return func(d *Driver) {
		d.codec = c
	}
}

// WithClock sets the wall clock.
func WithClock(c Clock) DriverOption {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithRunIDs sets the run ID generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) DriverOption {
	return func(d *Driver) {
		d.runIDs = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithQueuePhase sets the phase queue rows are dispatched for.
// Default: approval.PhaseSignature.
func WithQueuePhase(p approval.Phase) DriverOption {
	return func(d *Driver) {
		d.phase = p
	}
}

// WithMaxDispatches caps stamp requests per run. Zero means unlimited.
func WithMaxDispatches(n int) DriverOption {
	return func(d *Driver) {
		d.maxDispatches = n
	}
}

// WithVariants selects which tables a pass reconciles. Both by default.
func WithVariants(documents, queue bool) DriverOption {
	return func(d *Driver) {
		d.documents = documents
		d.queue = queue
	}
}

// NewDriver creates a Driver over s and svc.
func NewDriver(s *store.Store, svc docsvc.Service, opts ...DriverOption) *Driver {
	d := &Driver{
		store:     s,
		svc:       svc,
		codec:     batch.DefaultCodec,
		clock:     SystemClock{},
		seq:       NewSequence(),
		runIDs:    UUIDv7Generator{},
		guard:     NewDispatchGuard(),
		logger:    slog.Default(),
		phase:     approval.PhaseSignature,
		documents: true,
		queue:     true,
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.locker == nil {
		d.locker = store.NewLocker(s, DefaultLockTTL, DefaultLockTimeout)
	}
	d.policy = NewPolicy(svc, WithPhase(d.phase), WithPolicyClock(d.clock), WithPolicyLogger(d.logger))
	d.machine = NewMachine(svc, d.clock, d.logger)

	meter := otel.Meter(instrumentationName)
	d.dispatchN, _ = meter.Int64Counter("stampq.dispatches", metric.WithDescription("Stamp requests issued"))
	d.rowErrN, _ = meter.Int64Counter("stampq.row_errors", metric.WithDescription("Row-level failures recorded"))
	return d
}

// run holds the state of one pass. Nothing in it outlives the pass.
type run struct {
	d        *Driver
	id       string
	report   *RunReport
	budget   *DispatchBudget
	names    *Resolver
	reserved bool
}

// RunOnce executes one reconciliation pass and returns its report.
//
// A panic anywhere in the pass is recovered, logged with its stack, and
// recorded in the report; rows already written stay written.
func (d *Driver) RunOnce(ctx context.Context) (report RunReport) {
	runID := d.runIDs.Generate()
	start := d.clock.Now()
	report = RunReport{RunID: runID, StartedAt: start, Dispatches: []Dispatch{}, Errors: []RunError{}}

	ctx, span := d.tracer.Start(ctx, "stampq.run", trace.WithAttributes(attribute.String("run.id", runID)))
	r := &run{
		d:      d,
		id:     runID,
		report: &report,
		budget: NewDispatchBudget(d.maxDispatches),
		names:  NewResolver(d.svc),
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("run panicked",
				"run_id", runID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			report.Errors = append(report.Errors, RunError{Code: ErrCodePanic, Message: fmt.Sprint(p), RunID: runID})
			span.SetStatus(codes.Error, "panic")
		}
		d.guard.Clear(runID)
		report.Duration = d.clock.Now().Sub(start)
		span.SetAttributes(
			attribute.Int("run.updated", report.UpdatedCount),
			attribute.Int("run.dispatches", len(report.Dispatches)),
			attribute.Int("run.errors", len(report.Errors)),
		)
		span.End()
		d.logger.Info("run finished",
			"run_id", runID,
			"updated", report.UpdatedCount,
			"dispatches", len(report.Dispatches),
			"skipped", report.Skipped,
			"errors", len(report.Errors),
			"duration", report.Duration,
		)
	}()

	d.logger.Debug("run starting", "run_id", runID)
	if d.documents {
		r.phase(ctx, "refresh", r.refreshAll)
		r.phase(ctx, "advance_initial_stamped", r.advanceInitialStamped)
		r.phase(ctx, "advance_pending", r.advancePending)
	}
	if d.queue {
		r.phase(ctx, "advance_queue", r.advanceQueue)
	}
	return report
}

func (r *run) phase(ctx context.Context, name string, fn func(ctx context.Context)) {
	ctx, span := r.d.tracer.Start(ctx, "stampq."+name)
	defer span.End()
	fn(ctx)
}

// ============================================================================
// document_rows
// ============================================================================

func (r *run) refreshAll(ctx context.Context) {
	rows, ok := r.snapshotDocuments(ctx)
	if !ok {
		return
	}
	for _, row := range rows {
		if row.Status.Terminal() {
			continue
		}
		r.withDocument(ctx, row.Index, func(ctx context.Context, row approval.DocumentRow) Step {
			return r.d.machine.Refresh(ctx, row)
		})
	}
}

func (r *run) advanceInitialStamped(ctx context.Context) {
	rows, ok := r.snapshotDocuments(ctx)
	if !ok {
		return
	}
	for _, row := range rows {
		if !SignatureReady(row) {
			continue
		}
		step, ok := r.withDocument(ctx, row.Index, func(ctx context.Context, row approval.DocumentRow) Step {
			return r.d.machine.AdvanceInitialStamped(ctx, row, r.names, r.gate(ctx))
		})
		if ok && (step.Transition.Kind == Advanced || step.Deferred != nil) {
			return
		}
	}
}

func (r *run) advancePending(ctx context.Context) {
	rows, ok := r.snapshotDocuments(ctx)
	if !ok {
		return
	}
	for _, row := range rows {
		if _, eligible := PendingPhase(row); !eligible {
			continue
		}
		step, ok := r.withDocument(ctx, row.Index, func(ctx context.Context, row approval.DocumentRow) Step {
			return r.d.machine.AdvancePending(ctx, row, r.names, r.gate(ctx))
		})
		if ok && (step.Transition.Kind == Advanced || step.Deferred != nil) {
			return
		}
	}
}

func (r *run) snapshotDocuments(ctx context.Context) ([]approval.DocumentRow, bool) {
	rows, err := r.d.store.Documents().ReadAll(ctx)
	if err != nil {
		r.fail(ctx, RunError{Code: ErrCodeStore, Message: err.Error(), Table: store.DocumentLockKey})
		return nil, false
	}
	return rows, true
}

// withDocument runs fn on a fresh read of the row at index under the table
// lock and writes the result back when it changed.
func (r *run) withDocument(ctx context.Context, index int64, fn func(context.Context, approval.DocumentRow) Step) (Step, bool) {
	var step Step
	err := lock.With(ctx, r.d.locker, store.DocumentLockKey, func(ctx context.Context) error {
		row, err := r.d.store.Documents().ReadRow(ctx, index)
		if err != nil {
			return err
		}
		r.reserved = false
		step = fn(ctx, row)
		r.settleReservation(step.Dispatched != nil)
		if !step.Changed {
			return nil
		}
		if err := r.d.store.Documents().WriteRow(ctx, index, step.Row); err != nil {
			return err
		}
		r.report.UpdatedCount++
		return nil
	})
	if err != nil {
		r.storeError(ctx, store.DocumentLockKey, index, err)
		return step, false
	}

	if step.Dispatched != nil {
		r.recordDispatch(ctx, step.Dispatched)
	}
	if step.Deferred != nil {
		r.deferred(ctx, store.DocumentLockKey, index, step.Row.DocumentID, step.Deferred)
	}
	if step.Transition.Kind == Failed {
		r.fail(ctx, RunError{
			Code:       transitionCode(step.Transition.Err),
			Message:    step.Transition.Reason,
			Table:      store.DocumentLockKey,
			Row:        index,
			DocumentID: step.Row.DocumentID,
		})
	}
	return step, true
}

func transitionCode(err error) RunErrorCode {
	switch {
	case approval.IsValidation(err):
		return ErrCodeValidation
	case err != nil && isQueryError(err):
		return ErrCodeStatusQuery
	default:
		return ErrCodeDispatchFailed
	}
}

// isQueryError reports whether err came from a status query.
func isQueryError(err error) bool {
	if approval.IsNotFound(err) {
		return true
	}
	var pe *approval.DocumentProcessingError
	return errors.As(err, &pe) && pe.Op == "request status"
}

// ============================================================================
// queue_rows
// ============================================================================

func (r *run) advanceQueue(ctx context.Context) {
	records, err := r.d.store.Queue().ReadAll(ctx)
	if err != nil {
		r.fail(ctx, RunError{Code: ErrCodeStore, Message: err.Error(), Table: store.QueueLockKey})
		return
	}
	for _, rec := range records {
		if rec.QueueText == "" && store.ParseStatusLabel(rec.Status).AtLeast(r.d.phase.Completed()) {
			continue
		}
		r.advanceQueueRow(ctx, rec.Index)
	}
}

func (r *run) advanceQueueRow(ctx context.Context, index int64) {
	var (
		adv      Advance
		rowError *RunError
	)
	err := lock.With(ctx, r.d.locker, store.QueueLockKey, func(ctx context.Context) error {
		rec, err := r.d.store.Queue().ReadRow(ctx, index)
		if err != nil {
			return err
		}
		row, err := rec.Decode(r.d.codec)
		if err != nil {
			rowError = &RunError{Code: ErrCodeBatchMismatch, Message: err.Error(), Table: store.QueueLockKey, Row: index}
			return nil
		}

		r.reserved = false
		adv, err = r.d.policy.AdvanceGated(ctx, row, r.gate(ctx))
		r.settleReservation(adv.Dispatched != nil)
		if err != nil {
			docID, _ := approval.DocumentIDOf(err)
			rowError = &RunError{Code: ErrCodeStatusQuery, Message: err.Error(), Table: store.QueueLockKey, Row: index, DocumentID: docID}
			return nil
		}
		if !adv.Changed {
			return nil
		}
		if err := r.d.store.Queue().WriteRow(ctx, index, store.EncodeQueue(adv.Row, r.d.codec)); err != nil {
			return err
		}
		r.report.UpdatedCount++
		return nil
	})
	if err != nil {
		r.storeError(ctx, store.QueueLockKey, index, err)
		return
	}
	if rowError != nil {
		r.report.Skipped++
		rowError.RunID = r.id
		r.d.logger.Warn("queue row skipped",
			"run_id", r.id,
			"row", index,
			"code", string(rowError.Code),
			"error", rowError.Message,
		)
		r.fail(ctx, *rowError)
		return
	}

	if adv.Dispatched != nil {
		r.recordDispatch(ctx, adv.Dispatched)
	}
	if adv.Deferred != nil {
		r.deferred(ctx, store.QueueLockKey, index, "", adv.Deferred)
	}
	for _, f := range adv.Failures {
		code := ErrCodeDispatchFailed
		if approval.IsValidation(f) {
			code = ErrCodeValidation
		}
		docID, _ := approval.DocumentIDOf(f)
		r.fail(ctx, RunError{Code: code, Message: f.Error(), Table: store.QueueLockKey, Row: index, DocumentID: docID})
	}
	if len(adv.Removed) > 0 {
		r.d.logger.Info("recipients completed",
			"run_id", r.id,
			"row", index,
			"recipients", adv.Removed,
		)
	}
}

// ============================================================================
// Shared bookkeeping
// ============================================================================

// gate applies the per-run guard and budget to a dispatch about to be issued.
func (r *run) gate(ctx context.Context) Gate {
	return func(documentID, recipient string) error {
		if r.d.guard.WouldRepeat(r.id, documentID, recipient) {
			return NewDuplicateDispatchError(r.id, documentID, recipient)
		}
		if err := r.budget.Check(r.id); err != nil {
			return err
		}
		r.reserved = true
		r.d.guard.Record(r.id, documentID, recipient)
		return nil
	}
}

// settleReservation returns the budget reserved by the gate when no request
// went out.
func (r *run) settleReservation(dispatched bool) {
	if r.reserved && !dispatched {
		r.budget.Refund()
	}
	r.reserved = false
}

func (r *run) recordDispatch(ctx context.Context, d *Dispatch) {
	d.Seq = r.d.seq.Next()
	r.report.Dispatches = append(r.report.Dispatches, *d)
	if r.d.dispatchN != nil {
		r.d.dispatchN.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", d.Phase.String()),
			attribute.String("table", d.Table),
		))
	}
}

func (r *run) deferred(ctx context.Context, table string, index int64, documentID string, err error) {
	r.report.Skipped++
	level := slog.LevelInfo
	if IsDuplicateDispatch(err) {
		level = slog.LevelWarn
	}
	r.d.logger.Log(ctx, level, "dispatch deferred",
		"run_id", r.id,
		"table", table,
		"row", index,
		"document", documentID,
		"reason", err.Error(),
	)
}

func (r *run) storeError(ctx context.Context, table string, index int64, err error) {
	code := ErrCodeStore
	if errors.Is(err, lock.ErrTimeout) {
		code = ErrCodeLockTimeout
	}
	r.report.Skipped++
	r.d.logger.Warn("row operation aborted",
		"run_id", r.id,
		"table", table,
		"row", index,
		"error", err,
	)
	r.fail(ctx, RunError{Code: code, Message: err.Error(), Table: table, Row: index})
}

func (r *run) fail(ctx context.Context, e RunError) {
	e.RunID = r.id
	r.report.Errors = append(r.report.Errors, e)
	if r.d.rowErrN != nil {
		r.d.rowErrN.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", string(e.Code)),
			attribute.String("table", e.Table),
		))
	}
}
