package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/status"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Recipient string
	Events    bool
}

// StatusView is the canonical status of a document, optionally for one
// recipient.
type StatusView struct {
	DocumentID string                 `json:"document_id"`
	Recipient  string                 `json:"recipient,omitempty"`
	Status     approval.Status        `json:"status"`
	Label      string                 `json:"label"`
	Events     []approval.StatusEvent `json:"events,omitempty"`
}

func newStatusView(documentID, recipient string, st approval.Status) StatusView {
	return StatusView{DocumentID: documentID, Recipient: recipient, Status: st, Label: st.Label()}
}

func (v StatusView) WriteText(w io.Writer) {
	if v.Recipient != "" {
		fmt.Fprintf(w, "%s for %s: %s (%s)\n", v.DocumentID, v.Recipient, v.Status, v.Label)
	} else {
		fmt.Fprintf(w, "%s: %s (%s)\n", v.DocumentID, v.Status, v.Label)
	}
	for _, ev := range v.Events {
		fmt.Fprintf(w, "  %s <%s> %s\n", ev.RecipientName, ev.RecipientEmail, ev.Label)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <document-id-or-url>",
		Short: "Show a document's canonical status",
		Long: `Ask the Document Service for a document's status history and print the
canonical status it resolves to.

With --recipient the status is the one that recipient's events resolve to;
a recipient with no events is PENDING.

Example:
  stampq status 1AbCdEfGhIjKlMnOpQrStUvWxYz
  stampq status https://docs.example.com/d/1AbCdEf.../edit --recipient ana@example.com`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Recipient, "recipient", "", "resolve the status for one recipient (email or name)")
	cmd.Flags().BoolVar(&opts.Events, "events", false, "include the raw status history")

	return cmd
}

func runStatus(opts *StatusOptions, ref string, cmd *cobra.Command) error {
	documentID, err := resolveDocumentRef(ref)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	formatter := newFormatter(opts.RootOptions, cmd)
	events, err := a.svc.RequestStatus(ctx, documentID)
	if err != nil {
		code := ErrCodeService
		if approval.IsNotFound(err) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "status request failed", err)
	}

	view := newStatusView(documentID, opts.Recipient, status.Canonicalize(events, opts.Recipient))
	if opts.Events {
		view.Events = events
	}
	return formatter.Success(view)
}
