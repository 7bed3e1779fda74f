package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchRunsUntilCancelled(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "track", "doc1", "--initial", "a@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracking doc1")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err = env.executeContext(t, ctx, "watch", "--interval", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Watching. One pass every 1h0m0s.")

	// The startup pass runs before the first tick.
	require.Eventually(t, func() bool { return len(env.svc.Dispatches()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestWatchRejectsArgs(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "watch", "extra")
	require.Error(t, err)
}
