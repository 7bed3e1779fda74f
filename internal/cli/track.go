package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/registry"
)

// TrackOptions holds flags for the track command.
type TrackOptions struct {
	*RootOptions
	FileName  string
	Author    string
	Initial   string
	Signature string
}

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track <document-id-or-url>",
		Short: "Track a document through initial and signature stamping",
		Long: `Record a generated document so reconciliation passes drive it through
its stamps. Give --initial, --signature or both; each names the recipient
of that phase by email, name or initials.

Tracking a document twice updates its row in place. The row never moves
back to an earlier status.

Example:
  stampq track 1AbC... --initial ana@example.com --signature ben@example.com
  stampq track https://docs.example.com/d/1AbC.../edit --signature BR`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FileName, "file-name", "", "document file name")
	cmd.Flags().StringVar(&opts.Author, "author", "", "document author")
	cmd.Flags().StringVar(&opts.Initial, "initial", "", "initial stamp recipient")
	cmd.Flags().StringVar(&opts.Signature, "signature", "", "signature stamp recipient")

	return cmd
}

func runTrack(opts *TrackOptions, ref string, cmd *cobra.Command) error {
	documentID, err := resolveDocumentRef(ref)
	if err != nil {
		return err
	}
	if opts.Initial == "" && opts.Signature == "" {
		return NewExitError(ExitCommandError, "at least one of --initial or --signature is required")
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	formatter := newFormatter(opts.RootOptions, cmd)
	tr, err := a.registrar().Track(ctx, registry.TrackRequest{
		DocumentID:         documentID,
		FileName:           opts.FileName,
		Author:             opts.Author,
		NeedsInitial:       opts.Initial != "",
		NeedsSignature:     opts.Signature != "",
		InitialRecipient:   opts.Initial,
		SignatureRecipient: opts.Signature,
	})
	if err != nil {
		return reportRegistryError(formatter, "track failed", err)
	}
	return formatter.Success(trackingView{Tracking: tr, DocumentID: documentID})
}

type trackingView struct {
	registry.Tracking
	DocumentID string `json:"document_id"`
}

func (v trackingView) WriteText(w io.Writer) {
	verb := "Updated"
	if v.Created {
		verb = "Tracking"
	}
	fmt.Fprintf(w, "%s %s as document_rows/%d: %s\n", verb, v.DocumentID, v.Index, v.Status)
}
