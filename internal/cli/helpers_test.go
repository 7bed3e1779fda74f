package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/engine"
	"github.com/D4NGK4/CHEDFC/internal/testutil"
)

// testEnv is a config file over a scratch store plus an in-memory Document
// Service.
type testEnv struct {
	dir        string
	configPath string
	svc        *docsvc.Memory
	opts       *RootOptions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "stampq.yaml")
	cfg := fmt.Sprintf("store:\n  path: %s\nlock:\n  backend: local\n", filepath.Join(dir, "stampq.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))

	svc := docsvc.NewMemory()
	return &testEnv{
		dir:        dir,
		configPath: configPath,
		svc:        svc,
		opts: &RootOptions{
			Service: svc,
			RunIDs:  engine.NewFixedGenerator("run-1", "run-2", "run-3", "run-4"),
			Clock:   testutil.NewDeterministicClock(),
		},
	}
}

// execute runs the root command with args against env and returns stdout.
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.executeContext(t, context.Background(), args...)
}

func (e *testEnv) executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(e.opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--env-file", ""}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// openApp opens the env's app outside a command.
func (e *testEnv) openApp(t *testing.T) *app {
	t.Helper()
	opts := *e.opts
	opts.ConfigPath = e.configPath
	opts.Format = "text"

	cmd := &cobra.Command{}
	cmd.SetErr(io.Discard)
	a, err := openApp(context.Background(), &opts, cmd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}
