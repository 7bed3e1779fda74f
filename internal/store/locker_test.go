package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4NGK4/CHEDFC/internal/lock"
)

func TestLocker_Exclusive(t *testing.T) {
	s := createTestStore(t)
	l := NewLocker(s, time.Minute, 30*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "queue_rows")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "queue_rows")
	assert.ErrorIs(t, err, lock.ErrTimeout)

	other, err := l.Acquire(ctx, "document_rows")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))

	again, err := l.Acquire(ctx, "queue_rows")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocker_ExpiredLeaseTakenOver(t *testing.T) {
	s := createTestStore(t)
	l := NewLocker(s, time.Minute, 30*time.Millisecond)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	// The stale holder's release must not free the new lease.
	require.NoError(t, stale(ctx))
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, lock.ErrTimeout)

	require.NoError(t, fresh(ctx))
}

func TestLocker_SharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	s1, err := Open(path)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	ctx := context.Background()
	release, err := NewLocker(s1, time.Minute, 30*time.Millisecond).Acquire(ctx, "queue_rows")
	require.NoError(t, err)

	_, err = NewLocker(s2, time.Minute, 30*time.Millisecond).Acquire(ctx, "queue_rows")
	assert.ErrorIs(t, err, lock.ErrTimeout)

	require.NoError(t, release(ctx))
}

func TestLocker_WithHelper(t *testing.T) {
	s := createTestStore(t)
	l := NewLocker(s, time.Minute, 30*time.Millisecond)
	ctx := context.Background()

	err := lock.With(ctx, l, "queue_rows", func(ctx context.Context) error {
		_, err := s.Queue().AppendRow(ctx, createTestQueueRecord("tmpl-a"))
		return err
	})
	require.NoError(t, err)

	var held int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM locks`).Scan(&held))
	assert.Equal(t, 0, held)
}
