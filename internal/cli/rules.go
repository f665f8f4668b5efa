package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/relance/internal/ir"
)

// RuleView is a catalog rule in command output.
type RuleView struct {
	ir.RuleDefinition
	Active bool `json:"active"`
}

// RulesResult is the output of the rules command.
type RulesResult struct {
	Source string     `json:"source"`
	Digest string     `json:"digest"`
	Rules  []RuleView `json:"rules"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and validate the rule catalog",
		Long: `List the rule catalog in evaluation order. Rules are loaded from the
configured rules_dir (or --dir), or from the built-in catalog.

Experimental rules are listed as inactive unless enabled in the
configuration.

Exit codes:
  0 - Catalog is valid
  1 - Catalog failed validation
  2 - Command error (configuration)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, rootOpts, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of .cue rule files (overrides rules_dir)")

	return cmd
}

func runRules(cmd *cobra.Command, opts *RootOptions, dir string) error {
	out := opts.formatter(cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	if dir == "" {
		dir = cfg.RulesDir
	}

	cat, err := loadCatalog(dir)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeRules, err)
	}

	source := dir
	if source == "" {
		source = "built-in"
	}
	result := RulesResult{Source: source, Digest: cat.Digest()}

	enabled := cfg.ExperimentalSet()
	for _, r := range cat.Rules() {
		result.Rules = append(result.Rules, RuleView{RuleDefinition: r, Active: !r.Experimental || enabled[r.ID]})
	}

	return out.Success(result, result.writeText)
}

func (r RulesResult) writeText(w io.Writer) {
	fmt.Fprintf(w, "%d rule(s) from %s, digest %.12s\n", len(r.Rules), r.Source, r.Digest)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tURGENCY\tACTIVE\tCONDITIONS")
	for _, rule := range r.Rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rule.ID, rule.Priority, rule.Urgency, yesNo(rule.Active), formatConditions(rule.RequiredConditions))
	}
	tw.Flush()
}

// formatConditions renders conditions in state field order.
func formatConditions(conds map[string]bool) string {
	parts := make([]string, 0, len(conds))
	for _, f := range ir.StateFields {
		if v, ok := conds[f]; ok {
			if v {
				parts = append(parts, f)
			} else {
				parts = append(parts, "!"+f)
			}
		}
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
