package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/relance/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update   bool   // regenerate golden files
	NoGolden bool   // skip golden comparison
	Filter   string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario|dir>...",
		Short: "Run reconciliation scenarios",
		Long: `Run scenario files against an in-memory database with a fake clock.

Each scenario is checked against its step expectations and, when one
exists, against the golden snapshot in golden/<name>.golden next to it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  relance test ./scenarios
  relance test ./scenarios --filter "booking-*"
  relance test ./scenarios --update
  relance test ./scenarios/switches.yaml --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().BoolVar(&opts.NoGolden, "no-golden", false, "skip golden file comparison")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.MarkFlagsMutuallyExclusive("update", "no-golden")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, args []string) error {
	out := opts.formatter(cmd)

	files, err := harness.FindScenarios(args, opts.Filter)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInput, err)
	}

	mode := harness.GoldenCompare
	switch {
	case opts.Update:
		mode = harness.GoldenUpdate
	case opts.NoGolden:
		mode = harness.GoldenIgnore
	}

	result := harness.RunSuite(files, mode)
	if result.Scenarios == nil {
		result.Scenarios = []harness.ScenarioOutcome{}
	}

	if err := out.Success(result, func(w io.Writer) { writeSuiteText(w, result, opts.Update) }); err != nil {
		return err
	}

	if result.Failed > 0 {
		return WrapExitError(ExitFailure, ErrCodeTestFailed,
			fmt.Errorf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

func writeSuiteText(w io.Writer, result *harness.SuiteResult, updated bool) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, s := range result.Scenarios {
		if s.Pass {
			if updated {
				fmt.Fprintf(w, "\u2713 %s (golden updated)\n", s.Name)
			} else {
				fmt.Fprintf(w, "\u2713 %s\n", s.Name)
			}
			continue
		}
		fmt.Fprintf(w, "\u2717 %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
