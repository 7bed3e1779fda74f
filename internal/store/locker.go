package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/D4NGK4/CHEDFC/internal/lock"
)

// Lock keys guarding the read-modify-write cycle of each table.
const (
	QueueLockKey    = "queue_rows"
	DocumentLockKey = "document_rows"
)

// Locker is a lock.Locker backed by lease rows in the locks table.
// A lease that outlives ttl is considered abandoned and may be taken over.
type Locker struct {
	db      *Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker returns a lease locker on s.
func NewLocker(s *Store, ttl, timeout time.Duration) *Locker {
	return &Locker{db: s, ttl: ttl, timeout: timeout, now: time.Now}
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	owner := uuid.NewString()

	err := lock.Poll(ctx, l.timeout, func(ctx context.Context) (bool, error) {
		now := l.now()
		res, err := l.db.db.ExecContext(ctx, `
			INSERT INTO locks (name, owner, expires_at_ms) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at_ms = excluded.expires_at_ms
			WHERE locks.expires_at_ms <= ?
		`, key, owner, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
		if err != nil {
			return false, fmt.Errorf("lease %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("lease %s: %w", key, err)
		}
		return n == 1, nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	var relErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			_, err := l.db.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND owner = ?`, key, owner)
			if err != nil {
				relErr = fmt.Errorf("release lease %s: %w", key, err)
			}
		})
		return relErr
	}, nil
}
