package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStopped is returned by Trigger after the runner has stopped.
var ErrStopped = errors.New("engine: runner stopped")

// Runner serializes passes for long-running hosts (watch, serve).
//
// Triggers from any goroutine are queued; a single loop drains the queue and
// serves every pending trigger with one pass. Passes never overlap within a
// process, and bursts of triggers cost one pass.
//
// Thread-safety model:
//   - Trigger(), Notify(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Runner struct {
	driver *Driver
	queue  *triggerQueue
	logger *slog.Logger
}

// NewRunner creates a runner for d.
func NewRunner(d *Driver) *Runner {
	return &Runner{
		driver: d,
		queue:  newTriggerQueue(),
		logger: d.logger,
	}
}

// Notify queues a pass without waiting for it. Returns false once stopped.
func (r *Runner) Notify(reason string) bool {
	return r.queue.Enqueue(Trigger{Reason: reason})
}

// Trigger queues a pass and waits for the report of the pass that serves it.
func (r *Runner) Trigger(ctx context.Context, reason string) (RunReport, error) {
	reply := make(chan RunReport, 1)
	if !r.queue.Enqueue(Trigger{Reason: reason, reply: reply}) {
		return RunReport{}, ErrStopped
	}
	select {
	case report, ok := <-reply:
		if !ok {
			return RunReport{}, ErrStopped
		}
		return report, nil
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
}

// Run serves triggers until ctx is cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner starting")

	for {
		if triggers := r.queue.Drain(); len(triggers) > 0 {
			r.serve(ctx, triggers)
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping: context cancelled")
			r.queue.Close()
			r.abandon()
			return ctx.Err()

		case <-r.queue.Wait():
			// A closed queue keeps the channel readable; leave once drained.
			if r.queue.Len() == 0 && r.closed() {
				r.logger.Info("runner stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the trigger queue. Run serves what is queued, then returns.
func (r *Runner) Stop() {
	r.queue.Close()
}

// Every notifies the runner every interval until ctx is done. The first pass
// is queued immediately.
func (r *Runner) Every(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Notify("startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.Notify("schedule") {
				return
			}
		}
	}
}

func (r *Runner) serve(ctx context.Context, triggers []Trigger) {
	reasons := make([]string, len(triggers))
	for i, t := range triggers {
		reasons[i] = t.Reason
	}
	r.logger.Debug("serving triggers", "count", len(triggers), "reasons", reasons)

	report := r.driver.RunOnce(ctx)
	for _, t := range triggers {
		if t.reply != nil {
			t.reply <- report
		}
	}
}

// abandon unblocks waiters whose triggers will never be served.
func (r *Runner) abandon() {
	for _, t := range r.queue.Drain() {
		if t.reply != nil {
			close(t.reply)
		}
	}
}

func (r *Runner) closed() bool {
	r.queue.mu.Lock()
	defer r.queue.mu.Unlock()
	return r.queue.closed
}
