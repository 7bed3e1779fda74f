package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Strict bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass",
		Long: `Run one reconciliation pass over the store and print its report.

The pass refreshes every tracked document, advances the first document
whose initial stamp is done, advances the first pending document, then
gives every queue row one dispatch step. Row failures are recorded on the
rows and in the report; the pass itself always completes.

Exit codes:
  0 - Pass completed (row errors are reported, not fatal)
  1 - Pass recorded row errors and --strict was set
  2 - Command error (bad config, store unreachable, etc.)

Example:
  stampq run
  stampq run --config ./stampq.yaml --format json --strict`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when the pass records row errors")

	return cmd
}

func runPass(opts *RunOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	report := a.driver().RunOnce(ctx)

	formatter := newFormatter(opts.RootOptions, cmd)
	if err := formatter.Success(reportView{report}); err != nil {
		return err
	}

	if opts.Strict && !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("run %s recorded %d row error(s)", report.RunID, len(report.Errors)))
	}
	return nil
}

// reportView renders a RunReport for the terminal.
type reportView struct {
	engine.RunReport
}

func (v reportView) WriteText(w io.Writer) {
	r := v.RunReport
	fmt.Fprintf(w, "Run %s: %d updated, %d dispatched, %d skipped, %d error(s) in %s\n",
		r.RunID, r.UpdatedCount, len(r.Dispatches), r.Skipped, len(r.Errors), r.Duration)
	for _, d := range r.Dispatches {
		fmt.Fprintf(w, "  [%d] %s stamp → %s on %s (%s/%d)\n", d.Seq, d.Phase, d.Recipient, d.DocumentID, d.Table, d.Row)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  ✗ %s %s/%d: %s\n", e.Code, e.Table, e.Row, e.Message)
	}
}

// closeApp closes a and logs, rather than returns, any failure.
func closeApp(a *app) {
	if closeErr := a.Close(); closeErr != nil {
		slog.Error("error closing store", "error", closeErr)
	}
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// Call stop to release the signal handler.
func signalContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}
