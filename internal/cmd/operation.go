package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deskops/requesterctl/internal/core"
	"github.com/deskops/requesterctl/internal/core/batch"
	"github.com/deskops/requesterctl/internal/core/requester"
	"github.com/deskops/requesterctl/internal/input"
)

// operationSpec binds an operation to its input reader, per-row task and
// default input file.
type operationSpec struct {
	Operation    core.Operation
	Use          string
	Short        string
	Long         string
	DefaultInput string
	Read         func(io.Reader) ([]input.Row, error)
	Task         func(client *requester.Client) batch.Task
	// ResultLogs enables the <stem>_api_errors.csv / <stem>_successfully_updated.csv logs.
	ResultLogs bool
}

var operationSpecs = []operationSpec{
	{
		Operation:    core.OperationDeactivate,
		Use:          "deactivate [ids-file]",
		Short:        "Deactivate requesters listed one ID per line",
		DefaultInput: "requester_ids.txt",
		Read:         input.ReadIDs,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.Deactivate(ctx, row.RequesterID)
			}
		},
	},
	{
		Operation:    core.OperationReactivate,
		Use:          "reactivate [ids-file]",
		Short:        "Reactivate requesters listed one ID per line",
		Long:         "Reactivate requesters. A 404 on reactivation is checked with a lookup to tell a missing requester from one that is already active.",
		DefaultInput: "requester_ids.txt",
		Read:         input.ReadIDs,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.Reactivate(ctx, row.RequesterID)
			}
		},
	},
	{
		Operation: core.OperationMerge,
		Use:       "merge [csv-file]",
		Short:     "Merge secondary requesters into primaries (primary_id,secondary_id)",
		Long: `Merge each secondary requester into its primary.

When the primary is deactivated the merge is retried once after reactivating
it, and the primary is deactivated again afterwards. If the retry fails the
primary is left active and the row is reported for manual follow-up.`,
		DefaultInput: "merge.csv",
		Read:         input.ReadMergeRows,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.Merge(ctx, row.RequesterID, row.SecondaryID)
			}
		},
	},
	{
		Operation:    core.OperationUpdateEmails,
		Use:          "update-emails [csv-file]",
		Short:        "Set primary and secondary email (requester_id,primary_email,secondary_email)",
		DefaultInput: "update_requester_emails.csv",
		Read:         input.ReadEmailRows,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.UpdateEmails(ctx, row.RequesterID, row.PrimaryEmail, row.SecondaryEmail)
			}
		},
	},
	{
		Operation:    core.OperationAddSecondaryEmails,
		Use:          "add-secondary-emails [csv-file]",
		Short:        "Add secondary emails to the existing ones (requester_id,email_1[,email_2...])",
		DefaultInput: "add_secondary_emails.csv",
		Read:         input.ReadAddSecondaryRows,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.AddSecondaryEmails(ctx, row.RequesterID, row.Emails)
			}
		},
	},
	{
		Operation:    core.OperationReplaceSecondaryEmails,
		Use:          "replace-secondary-emails [csv-file]",
		Short:        "Replace all secondary emails (requester_id,email_1[,email_2...])",
		Long:         "Clear each requester's secondary emails, then set the listed ones. Results are appended to <input>_api_errors.csv and <input>_successfully_updated.csv next to the input file.",
		DefaultInput: "replace_secondary_emails.csv",
		Read:         input.ReadReplaceRows,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.ReplaceSecondaryEmails(ctx, row.RequesterID, row.Emails)
			}
		},
		ResultLogs: true,
	},
	{
		Operation:    core.OperationUpdateExternalID,
		Use:          "update-external-id [csv-file]",
		Short:        "Set external IDs (header requester_id,external_id)",
		DefaultInput: "update_requester_external_ids.csv",
		Read:         input.ReadExternalIDRows,
		Task: func(client *requester.Client) batch.Task {
			return func(ctx context.Context, row input.Row) (*core.Outcome, error) {
				return client.UpdateExternalID(ctx, row.RequesterID, row.ExternalID)
			}
		},
	},
}

func lookupOperation(op core.Operation) (operationSpec, bool) {
	for _, spec := range operationSpecs {
		if spec.Operation == op {
			return spec, true
		}
	}
	return operationSpec{}, false
}

func newOperationCommand(spec operationSpec) *cobra.Command {
	long := spec.Long
	if long == "" {
		long = spec.Short + "."
	}
	return &cobra.Command{
		Use:   spec.Use,
		Short: spec.Short,
		Long:  fmt.Sprintf("%s\n\nThe input file defaults to %s.", long, spec.DefaultInput),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := spec.DefaultInput
			if len(args) == 1 {
				path = args[0]
			}
			opts, closeOut, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			defer closeOut() // nolint:errcheck // best-effort cleanup

			_, err = runOperation(cmd.Context(), spec, path, opts)
			return err
		},
	}
}

func init() {
	for _, spec := range operationSpecs {
		rootCmd.AddCommand(newOperationCommand(spec))
	}
}
