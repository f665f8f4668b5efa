package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/relance/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrRuleIDInvalid       = "E201" // id missing or not kebab-case
	ErrRuleNameEmpty       = "E202" // display name is required
	ErrRuleInvalidPriority = "E203" // priority not low|medium|high
	ErrRuleInvalidUrgency  = "E204" // urgency not critical|high|medium|low
	ErrRuleNoConditions    = "E205" // at least one condition required
	ErrRuleUnknownField    = "E206" // condition references unknown state field
	ErrRuleDuplicateID     = "E207" // duplicate rule id within one catalog
	ErrRuleUnsatisfiable   = "E208" // conditions can never all hold
)

var ruleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// ValidationError represents a rule validation error.
type ValidationError struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateRule checks a single rule definition.
// Returns all errors found (does not fail-fast).
func ValidateRule(rule *ir.RuleDefinition) []ValidationError {
	var errs []ValidationError
	add := func(field, code, msg string) {
		errs = append(errs, ValidationError{RuleID: rule.ID, Field: field, Message: msg, Code: code})
	}

	if !ruleIDPattern.MatchString(rule.ID) {
		add("id", ErrRuleIDInvalid, fmt.Sprintf("rule id %q must be kebab-case", rule.ID))
	}
	if strings.TrimSpace(rule.DisplayName) == "" {
		add("display_name", ErrRuleNameEmpty, "display name is required and must be non-empty")
	}
	if !ir.ValidPriorities[rule.Priority] {
		add("priority", ErrRuleInvalidPriority, fmt.Sprintf("invalid priority %q, must be low, medium or high", rule.Priority))
	}
	if !ir.ValidUrgencies[rule.Urgency] {
		add("urgency", ErrRuleInvalidUrgency, fmt.Sprintf("invalid urgency %q, must be critical, high, medium or low", rule.Urgency))
	}
	if len(rule.RequiredConditions) == 0 {
		add("when", ErrRuleNoConditions, "at least one condition is required")
	}

	// Sorted for stable error order
	fields := make([]string, 0, len(rule.RequiredConditions))
	for f := range rule.RequiredConditions {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !ir.IsStateField(f) {
			add("when."+f, ErrRuleUnknownField, fmt.Sprintf("unknown state field %q", f))
		}
	}

	errs = append(errs, checkSatisfiable(rule)...)
	return errs
}

// ValidateRules checks a whole catalog, including id uniqueness.
func ValidateRules(rules []ir.RuleDefinition) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		errs = append(errs, ValidateRule(&rules[i])...)
		if seen[rules[i].ID] {
			errs = append(errs, ValidationError{
				RuleID:  rules[i].ID,
				Field:   "id",
				Message: fmt.Sprintf("duplicate rule id: %q", rules[i].ID),
				Code:    ErrRuleDuplicateID,
			})
		}
		seen[rules[i].ID] = true
	}
	return errs
}

// checkSatisfiable rejects condition sets that contradict the implications
// built into the state vector (validated implies received implies sent,
// signed implies sent implies generated).
func checkSatisfiable(rule *ir.RuleDefinition) []ValidationError {
	implies := [][2]string{
		{ir.FieldFormReceived, ir.FieldFormSent},
		{ir.FieldFormValidated, ir.FieldFormReceived},
		{ir.FieldContractSent, ir.FieldContractGenerated},
		{ir.FieldContractSigned, ir.FieldContractSent},
	}
	var errs []ValidationError
	for _, pair := range implies {
		strong, weak := pair[0], pair[1]
		sv, sok := rule.RequiredConditions[strong]
		wv, wok := rule.RequiredConditions[weak]
		if sok && wok && sv && !wv {
			errs = append(errs, ValidationError{
				RuleID:  rule.ID,
				Field:   "when",
				Message: fmt.Sprintf("%s=true implies %s=true, rule can never fire", strong, weak),
				Code:    ErrRuleUnsatisfiable,
			})
		}
	}
	return errs
}
