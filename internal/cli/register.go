package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/registry"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	TemplateID    string
	Levels        []string
	IncludeAuthor bool
	Author        string
	Document      string
	Fields        string
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Queue a template submission for approval",
		Long: `Resolve the approvers of a template submission and append them as a new
batch on the template's queue row for the current year.

Approvers are resolved from the Document Service directory: the author
first with --include-author, then everyone at each --level in order. The
"Division Chief" level is narrowed to the author's division.

Example:
  stampq register --template tmpl-7 --document 1AbC... \
    --author ana@example.com --include-author \
    --level Supervisor --level "Division Chief"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TemplateID, "template", "", "template id (required)")
	cmd.Flags().StringVar(&opts.Document, "document", "", "generated document id or URL (required)")
	cmd.Flags().StringArrayVar(&opts.Levels, "level", nil, "approval level, repeatable, in order")
	cmd.Flags().BoolVar(&opts.IncludeAuthor, "include-author", false, "ask the author first")
	cmd.Flags().StringVar(&opts.Author, "author", "", "submitting author (email or name)")
	cmd.Flags().StringVar(&opts.Fields, "fields", "", "template field list stored on the row")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("document")

	return cmd
}

func runRegister(opts *RegisterOptions, cmd *cobra.Command) error {
	documentID, err := resolveDocumentRef(opts.Document)
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
	formatter.VerboseLog("Registering %s for %s (levels %v)", opts.TemplateID, documentID, opts.Levels)

	reg, err := a.registrar().Register(ctx, registry.Submission{
		TemplateID:    opts.TemplateID,
		Levels:        opts.Levels,
		IncludeAuthor: opts.IncludeAuthor,
		Author:        opts.Author,
		DocumentID:    documentID,
		Fields:        opts.Fields,
	})
	if err != nil {
		return reportRegistryError(formatter, "register failed", err)
	}
	return formatter.Success(registrationView{reg})
}

type registrationView struct {
	registry.Registration
}

func (v registrationView) WriteText(w io.Writer) {
	verb := "Appended to"
	if v.Created {
		verb = "Created"
	}
	fmt.Fprintf(w, "%s queue_rows/%d: %s (registration %d)\n", verb, v.Index, v.ControlNumber, v.Count)
	fmt.Fprintf(w, "  recipients: %s\n", strings.Join(v.Recipients, ", "))
}

// reportRegistryError prints err and maps it to an exit code: bad input is a
// failure of the request, anything else a command error.
func reportRegistryError(formatter *OutputFormatter, message string, err error) error {
	if approval.IsValidation(err) {
		_ = formatter.Error(ErrCodeValidation, err.Error(), nil)
		return WrapExitError(ExitFailure, message, err)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, message, err)
}
