package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/relance/internal/engine"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "reconcile <booking-id>",
		Short: "Run one reconciliation pass for a booking",
		Long: `Run one reconciliation pass for a booking, as if a user had just
modified it. The pass honors the kill switch and the tenant list.

Exit codes:
  0 - Pass completed or skipped
  1 - Unknown booking, wrong tenant or a rule failed
  2 - Command error (configuration, database)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, rootOpts, false, args[0], tenant)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (resolved from the booking when empty)")

	return cmd
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "repair <booking-id>",
		Short: "Force a reconciliation pass, bypassing the debounce guard",
		Long: `Force a reconciliation pass for a booking. The pass reads fresh state
from the database and rewrites the back-link if it has drifted.

Exit codes:
  0 - Pass completed or skipped
  1 - Unknown booking, wrong tenant or a rule failed
  2 - Command error (configuration, database)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, rootOpts, true, args[0], tenant)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (resolved from the booking when empty)")

	return cmd
}

func runPass(cmd *cobra.Command, opts *RootOptions, forced bool, entityID, tenant string) error {
	out := opts.formatter(cmd)

	e, err := openEnv(out, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)

	var rep engine.Report
	if forced {
		rep, err = e.rec.Repair(ctx, entityID, tenant)
	} else {
		rep, err = e.rec.Reconcile(ctx, ir.Trigger{EntityID: entityID, TenantID: tenant, Origin: ir.OriginUser})
	}
	return reportPass(out, rep, err)
}

// reportPass prints the outcome of a pass and maps its error to an exit
// code. Per-rule failures still print the report.
func reportPass(out *OutputFormatter, rep engine.Report, err error) error {
	switch {
	case err == nil:
		view := newReportView(rep)
		return out.Success(view, view.writeText)
	case errors.Is(err, store.ErrEntityNotFound):
		return out.Fail(ExitFailure, ErrCodeNotFound, err)
	case errors.Is(err, engine.ErrTenantMismatch):
		return out.Fail(ExitFailure, ErrCodeTenant, err)
	case engine.IsRuleError(err):
		view := newReportView(rep)
		if outErr := out.SuccessWithWarnings(view, view.Errors, view.writeText); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, ErrCodeReconcile, err)
	default:
		return out.Fail(ExitFailure, ErrCodeReconcile, err)
	}
}
