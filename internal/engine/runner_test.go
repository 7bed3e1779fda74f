package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, runIDs ...string) *Runner {
	t.Helper()
	f := newDriverFixture(t)
	f.addQueue(t, "a@x.com", "doc1")
	d := NewDriver(f.store, f.svc,
		WithLocker(f.locker),
		WithRunIDs(NewFixedGenerator(runIDs...)),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	return NewRunner(d)
}

func startRunner(t *testing.T, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRunner_TriggerReturnsReport(t *testing.T) {
	r := newTestRunner(t, "run-1")
	cancel, done := startRunner(t, r)

	report, err := r.Trigger(context.Background(), "http")
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.Len(t, report.Dispatches, 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_CoalescesQueuedTriggers(t *testing.T) {
	// One run ID: a second pass would exhaust the generator and panic.
	r := newTestRunner(t, "run-1")

	replies := make([]chan RunReport, 3)
	for i := range replies {
		replies[i] = make(chan RunReport, 1)
		require.True(t, r.queue.Enqueue(Trigger{Reason: "burst", reply: replies[i]}))
	}
	r.Stop()

	require.NoError(t, r.Run(context.Background()))
	for _, reply := range replies {
		report := <-reply
		assert.Equal(t, "run-1", report.RunID)
	}
}

func TestRunner_StopServesQueuedThenReturns(t *testing.T) {
	r := newTestRunner(t, "run-1")
	require.True(t, r.Notify("schedule"))
	r.Stop()

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 0, r.queue.Len())
}

func TestRunner_TriggerAfterStop(t *testing.T) {
	r := newTestRunner(t)
	r.Stop()

	assert.False(t, r.Notify("schedule"))
	_, err := r.Trigger(context.Background(), "http")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunner_TriggerHonorsContext(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Trigger(ctx, "http")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_CancelAbandonsWaiters(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing is queued, so the loop sees the cancellation and closes the queue.
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)

	_, err := r.Trigger(context.Background(), "late")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunner_EveryQueuesStartup(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Every(ctx, time.Hour)
	got := r.queue.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "startup", got[0].Reason)
}

func TestRunner_EverySchedules(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Every(ctx, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return r.queue.Len() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
