package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/engine"
	"github.com/D4NGK4/CHEDFC/internal/lock"
	"github.com/D4NGK4/CHEDFC/internal/store"
	"github.com/D4NGK4/CHEDFC/internal/testutil"
)

// Harness is the scenario execution engine.
// It drives a real engine.Driver against a scratch store and an in-memory
// Document Service, with a deterministic clock and run IDs.
type Harness struct {
	store  *store.Store
	svc    *docsvc.Memory
	driver *engine.Driver
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh SQLite file under a temporary directory that
// is removed afterwards. Execution flow:
//  1. Seed rows and service histories
//  2. For each pass: apply service changes, run the driver once, check the
//     pass expectation and every Principle
//  3. Evaluate assertions against the trace and final rows
//
// The returned error reports harness failures (bad seeds, store errors);
// scenario failures are reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "stampq-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	passes := scenario.Passes
	if len(passes) == 0 {
		passes = []Pass{{}}
	}

	before, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i, pass := range passes {
		n := i + 1
		h.apply(pass)

		report := h.driver.RunOnce(ctx)
		trace := traceOf(n, report)
		result.Passes = append(result.Passes, trace)

		after, err := h.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		for _, msg := range checkPassExpect(trace, pass.Expect) {
			result.AddError(fmt.Sprintf("pass %d: %s", n, msg))
		}
		for _, p := range Principles {
			if err := p.Check(before, after, trace); err != nil {
				result.AddError(fmt.Sprintf("pass %d: principle %s: %v", n, p.Name, err))
			}
		}
		h.logger.Info("pass completed",
			"pass", n,
			"updated", trace.Updated,
			"dispatches", len(trace.Dispatches),
			"errors", len(trace.Errors),
		)
		before = after
	}
	result.State = before

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) (*Harness, error) {
	opts := []engine.DriverOption{
		engine.WithLocker(lock.NewLocal(time.Second)),
		engine.WithMaxDispatches(scenario.Engine.MaxDispatchesPerRun),
	}

	if scenario.Engine.QueuePhase != "" {
		phase, err := approval.ParsePhase(scenario.Engine.QueuePhase)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithQueuePhase(phase))
	}
	if len(scenario.Engine.Variants) > 0 {
		opts = append(opts, engine.WithVariants(
			slices.Contains(scenario.Engine.Variants, variantDocuments),
			slices.Contains(scenario.Engine.Variants, variantQueue),
		))
	}

	clock := testutil.NewDeterministicClock()
	logger := slog.New(slog.DiscardHandler) // Suppress logs in scenarios
	opts = append(opts,
		engine.WithClock(clock),
		engine.WithRunIDs(testutil.NewFixedRunIDGenerator(scenario.RunID)),
		engine.WithLogger(logger),
	)

	svc := docsvc.NewMemory()
	return &Harness{
		store:  st,
		svc:    svc,
		driver: engine.NewDriver(st, svc, opts...),
		clock:  clock,
		logger: logger,
	}, nil
}

// seed writes the initial rows and service state.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	h.svc.SetPersonalities(scenario.People)
	for _, id := range sortedKeys(scenario.Histories) {
		h.svc.SetHistory(id, scenario.Histories[id]...)
	}

	for i, d := range scenario.Documents {
		row := approval.DocumentRow{
			DocumentID:         d.DocumentID,
			FileName:           d.FileName,
			Author:             d.Author,
			Status:             store.ParseStatusLabel(d.Status),
			NeedsInitial:       d.NeedsInitial,
			NeedsSignature:     d.NeedsSignature,
			InitialRecipient:   d.InitialRecipient,
			SignatureRecipient: d.SignatureRecipient,
		}
		if _, err := h.store.Documents().AppendRow(ctx, row); err != nil {
			return fmt.Errorf("documents[%d]: %w", i, err)
		}
	}

	for i, q := range scenario.Queue {
		year := q.Year
		if year == 0 {
			year = testutil.DefaultEpoch.Year()
		}
		count := q.Count
		if count == 0 {
			count = 1
		}
		rec := store.QueueRecord{
			TemplateID:    q.TemplateID,
			Year:          year,
			Count:         count,
			ControlNumber: q.ControlNumber,
			Fields:        q.Fields,
			QueueText:     q.Queue,
			FileIDText:    q.FileIDs,
			Dispatched:    q.Dispatched,
			Status:        store.ParseStatusLabel(q.Status).Label(),
		}
		if _, err := h.store.Queue().AppendRow(ctx, rec); err != nil {
			return fmt.Errorf("queue[%d]: %w", i, err)
		}
	}
	return nil
}

// apply makes the service changes of one pass. Maps are applied in key
// order.
func (h *Harness) apply(p Pass) {
	for _, id := range p.ClearStatus {
		h.svc.FailStatus(id, nil)
	}
	for _, email := range p.ClearDispatch {
		h.svc.FailDispatch(email, nil)
	}
	for _, id := range p.Missing {
		h.svc.SetMissing(id)
	}
	for _, id := range sortedKeys(p.Events) {
		for _, ev := range p.Events[id] {
			h.svc.AddEvent(id, ev)
		}
	}
	for _, st := range p.Stamps {
		// Phases were checked by validateScenario.
		phase, _ := approval.ParsePhase(st.Phase)
		h.svc.Stamp(st.DocumentID, st.Email, phase)
	}
	for _, id := range sortedKeys(p.FailStatus) {
		h.svc.FailStatus(id, errors.New(p.FailStatus[id]))
	}
	for _, email := range sortedKeys(p.FailDispatch) {
		h.svc.FailDispatch(email, errors.New(p.FailDispatch[email]))
	}
}

// snapshot reads both tables.
func (h *Harness) snapshot(ctx context.Context) (State, error) {
	var s State

	docs, err := h.store.Documents().ReadAll(ctx)
	if err != nil {
		return s, fmt.Errorf("read document rows: %w", err)
	}
	s.Documents = make([]DocumentState, 0, len(docs))
	for _, d := range docs {
		s.Documents = append(s.Documents, DocumentState{
			Index:              d.Index,
			DocumentID:         d.DocumentID,
			Status:             d.Status,
			ErrorKind:          d.ErrorKind,
			LastError:          d.LastError,
			InitialRecipient:   d.InitialRecipient,
			SignatureRecipient: d.SignatureRecipient,
		})
	}

	recs, err := h.store.Queue().ReadAll(ctx)
	if err != nil {
		return s, fmt.Errorf("read queue rows: %w", err)
	}
	s.Queue = make([]QueueState, 0, len(recs))
	for _, r := range recs {
		s.Queue = append(s.Queue, QueueState{
			Index:         r.Index,
			TemplateID:    r.TemplateID,
			ControlNumber: r.ControlNumber,
			Count:         r.Count,
			Status:        r.Status,
			Queue:         r.QueueText,
			FileIDs:       r.FileIDText,
			Dispatched:    r.Dispatched,
			LastError:     r.LastError,
		})
	}
	return s, nil
}

// checkPassExpect compares a pass trace with its expectation.
func checkPassExpect(trace PassTrace, want *PassExpect) []string {
	if want == nil {
		return nil
	}
	var errs []string
	if want.Updated != nil && *want.Updated != trace.Updated {
		errs = append(errs, fmt.Sprintf("expected updated=%d, got %d", *want.Updated, trace.Updated))
	}
	if want.Dispatches != nil && *want.Dispatches != len(trace.Dispatches) {
		errs = append(errs, fmt.Sprintf("expected %d dispatches, got %d", *want.Dispatches, len(trace.Dispatches)))
	}
	if want.Skipped != nil && *want.Skipped != trace.Skipped {
		errs = append(errs, fmt.Sprintf("expected skipped=%d, got %d", *want.Skipped, trace.Skipped))
	}
	if want.Errors != nil {
		got := make([]string, len(trace.Errors))
		for i, e := range trace.Errors {
			got[i] = string(e.Code)
		}
		if !slices.Equal(want.Errors, got) {
			errs = append(errs, fmt.Sprintf("expected error codes %v, got %v", want.Errors, got))
		}
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
