package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/store"
)

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <row-index>",
		Short: "Reset an ERROR document row to PENDING",
		Long: `Clear the error on a document row and return it to PENDING so the next
pass refreshes and advances it. Only rows in ERROR can be retried.

Example:
  stampq retry 4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runRetry(opts *RootOptions, arg string, cmd *cobra.Command) error {
	index, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || index < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid row index %q", arg))
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	formatter := newFormatter(opts, cmd)
	row, err := a.registrar().Retry(ctx, index)
	if err != nil {
		if errors.Is(err, store.ErrRowNotFound) {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "retry failed", err)
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "retry failed", err)
	}
	return formatter.Success(retryView{row})
}

type retryView struct {
	approval.DocumentRow
}

func (v retryView) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Reset document_rows/%d (%s) to %s\n", v.Index, v.DocumentID, v.Status)
}
