package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
)

// TasksResult is the output of the tasks command.
type TasksResult struct {
	BookingID string           `json:"booking_id"`
	Links     []string         `json:"task_ids"`
	Tasks     []ir.DerivedTask `json:"tasks"`
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <booking-id>",
		Short: "List the tasks of a booking",
		Long: `List every task of a booking, automatic and manual, together with the
task ids back-linked on the booking.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, rootOpts, args[0])
		},
	}
}

func runTasks(cmd *cobra.Command, opts *RootOptions, id string) error {
	out := opts.formatter(cmd)

	e, err := openEnv(out, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	b, err := e.store.GetBooking(ctx, id)
	if errors.Is(err, store.ErrEntityNotFound) {
		return out.Fail(ExitFailure, ErrCodeNotFound, err)
	}
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}

	tasks, err := e.store.ListTasks(ctx, id)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}
	if tasks == nil {
		tasks = []ir.DerivedTask{}
	}

	result := TasksResult{BookingID: b.ID, Links: b.TaskIDs, Tasks: tasks}
	return out.Success(result, result.writeText)
}

func (r TasksResult) writeText(w io.Writer) {
	if len(r.Tasks) == 0 {
		fmt.Fprintf(w, "booking %s has no tasks\n", r.BookingID)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRULE\tPRIORITY\tDUE\tSTATUS")
	for _, t := range r.Tasks {
		rule := t.RuleID
		if rule == "" {
			rule = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, rule, t.Priority, t.DueDate.Format(time.DateOnly), taskStatus(t))
	}
	tw.Flush()
}

func taskStatus(t ir.DerivedTask) string {
	switch {
	case !t.Automatic && t.Completed:
		return "manual, completed"
	case !t.Automatic:
		return "manual"
	case t.CompletedAutomatically:
		return "completed (auto)"
	case t.Completed:
		return "completed"
	default:
		return "open"
	}
}
