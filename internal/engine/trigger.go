package engine

import "sync"

// Trigger asks the runner for one reconciliation pass.
type Trigger struct {
	// Reason is logged with the run ("schedule", "http", "startup").
	Reason string

	// reply receives the report of the run that served this trigger.
	// Nil for fire-and-forget triggers.
	reply chan RunReport
}

// triggerQueue is a thread-safe queue of pending triggers.
//
// Triggers that pile up while a run is in progress are served together by
// the next run: the runner drains the whole queue and answers every waiter
// with the same report. That keeps a single writer no matter how many
// schedules or HTTP callers fire at once.
//
// The queue uses a buffered signal channel for context-aware waiting in the
// runner loop.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []Trigger
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger. Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.triggers = append(q.triggers, t)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every pending trigger, oldest first.
// Returns nil when the queue is empty.
func (q *triggerQueue) Drain() []Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return nil
	}
	out := q.triggers
	q.triggers = nil
	return out
}

// Wait returns a channel that signals when triggers may be available.
// The channel is closed when the queue is closed.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending triggers.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// Close stops accepting triggers and wakes the runner.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
