package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/relance/internal/ir"
)

// CompileRule parses a CUE value into a RuleDefinition.
//
// The value should be the rule struct itself, keyed by its id:
//
//	rule: "send-form": {
//		display_name: "Send the intake form"
//		priority:     "high"
//		urgency:      "high"
//		when: {entityCreated: true, formSent: false}
//	}
//
// Structural problems are returned as *CompileError; semantic checks are
// left to ValidateRule.
func CompileRule(v cue.Value) (*ir.RuleDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.RuleDefinition{}

	// The id is the struct label: `rule: "send-form": {...}`
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	if rule.DisplayName, err = requiredString(v, "display_name"); err != nil {
		return nil, err
	}
	if rule.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}

	priority, err := requiredString(v, "priority")
	if err != nil {
		return nil, err
	}
	rule.Priority = ir.Priority(priority)

	urgency, err := requiredString(v, "urgency")
	if err != nil {
		return nil, err
	}
	rule.Urgency = ir.UrgencyClass(urgency)

	if rule.RequiredConditions, err = parseConditions(v); err != nil {
		return nil, err
	}

	expVal := v.LookupPath(cue.ParsePath("experimental"))
	if expVal.Exists() {
		b, err := expVal.Bool()
		if err != nil {
			return nil, &CompileError{
				Field:   "experimental",
				Message: "experimental must be a boolean",
				Pos:     expVal.Pos(),
			}
		}
		rule.Experimental = b
	}

	return rule, nil
}

// CompileRules compiles every field of a `rule` struct in declaration order.
func CompileRules(root cue.Value) ([]ir.RuleDefinition, error) {
	rulesVal := root.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, &CompileError{
			Field:   "rule",
			Message: "no rule definitions found",
			Pos:     root.Pos(),
		}
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rules []ir.RuleDefinition
	for iter.Next() {
		rule, err := CompileRule(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", iter.Label(), err)
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// parseConditions reads the `when` struct of field -> bool.
func parseConditions(v cue.Value) (map[string]bool, error) {
	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return nil, &CompileError{
			Field:   "when",
			Message: "when clause is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := whenVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	conds := make(map[string]bool)
	for iter.Next() {
		b, err := iter.Value().Bool()
		if err != nil {
			return nil, &CompileError{
				Field:   "when." + iter.Label(),
				Message: "condition value must be a boolean",
				Pos:     iter.Value().Pos(),
			}
		}
		conds[iter.Label()] = b
	}
	return conds, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}
