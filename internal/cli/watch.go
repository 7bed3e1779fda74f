package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run passes on a schedule",
		Long: `Run a reconciliation pass immediately and then every interval until
interrupted (SIGINT or SIGTERM).

Passes never overlap: a pass that runs long absorbs the ticks that fire
during it.

Example:
  stampq watch
  stampq watch --interval 2m --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between passes (default watch.interval from config)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	parent := commandContext(cmd)
	a, err := openApp(parent, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.Watch.Interval
	}

	ctx, stop := signalContext(parent, a.logger)
	defer stop()

	runner := engine.NewRunner(a.driver())
	go runner.Every(ctx, interval)

	a.logger.Info("watch starting", "interval", interval, "store", a.cfg.Store.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "Watching. One pass every %s.\n", interval)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "runner error", err)
	}

	a.logger.Info("watch stopped gracefully")
	return nil
}
