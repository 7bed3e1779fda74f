// Package lock provides the mutual exclusion used around every row
// read-modify-write.
//
// Backends:
//   - Local: in-process, for tests and single-binary deployments
//   - store.Locker: a lease row in the SQLite store (see package store)
//   - Redis: SET NX PX with a token-checked release
//   - Postgres: session advisory locks
//
// Acquisition polls until the key is free or the timeout elapses, then
// fails with ErrTimeout. The caller leaves the row untouched and retries on
// the next pass.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired in time.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// With runs fn while holding key. The release error is returned only when fn
// succeeded.
func With(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) (err error) {
	release, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// Release even if the run context was canceled mid-operation.
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = fmt.Errorf("release %s: %w", key, rerr)
		}
	}()
	return fn(ctx)
}

// TryFunc attempts a single non-blocking acquisition.
type TryFunc func(ctx context.Context) (bool, error)

// Poll calls try until it succeeds, fails, or timeout elapses. The wait
// between attempts doubles from 10ms up to 250ms.
func Poll(ctx context.Context, timeout time.Duration, try TryFunc) error {
	deadline := time.Now().Add(timeout)
	wait := 10 * time.Millisecond
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		timer := time.NewTimer(min(wait, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, 250*time.Millisecond)
	}
}

// Local is an in-process Locker.
type Local struct {
	mu      sync.Mutex
	held    map[string]bool
	timeout time.Duration
}

// NewLocal returns an in-process locker that waits up to timeout.
func NewLocal(timeout time.Duration) *Local {
	return &Local{held: make(map[string]bool), timeout: timeout}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	err := Poll(ctx, l.timeout, func(context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] {
			return false, nil
		}
		l.held[key] = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
