package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// AssertionError is returned when a step does not match its expectation.
type AssertionError struct {
	Field    string // Expectation field, e.g. "open"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// CheckStep compares a step result against the step's expectation.
// A step without expect only fails on an unexpected error.
func CheckStep(step Step, got StepResult) []error {
	exp := step.Expect
	if exp == nil {
		if got.Error != "" {
			return []error{&AssertionError{Field: "error", Expected: "none", Actual: got.Error}}
		}
		return nil
	}

	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(checkError(exp.Error, got.Error))

	if exp.Skipped != got.Skipped {
		check(&AssertionError{Field: "skipped", Expected: quoteOrNone(exp.Skipped), Actual: quoteOrNone(got.Skipped)})
	}

	if exp.Created != nil {
		created := make([]string, len(got.Created))
		for i, t := range got.Created {
			created[i] = t.RuleID
		}
		check(compareRuleSets("created", exp.Created, created))
	}
	if exp.Completed != nil {
		check(compareRuleSets("completed", exp.Completed, got.Completed))
	}
	if exp.Open != nil {
		check(compareRuleSets("open", exp.Open, got.Open))
	}

	if exp.Writes != nil && *exp.Writes != got.Writes {
		check(&AssertionError{Field: "writes", Expected: fmt.Sprint(*exp.Writes), Actual: fmt.Sprint(got.Writes)})
	}

	check(checkDue(exp.Due, got))

	return errs
}

func checkError(want, got string) error {
	switch {
	case want == "" && got != "":
		return &AssertionError{Field: "error", Expected: "none", Actual: got}
	case want != "" && got == "":
		return &AssertionError{Field: "error", Expected: fmt.Sprintf("containing %q", want), Actual: "none"}
	case want != "" && !strings.Contains(got, want):
		return &AssertionError{Field: "error", Expected: fmt.Sprintf("containing %q", want), Actual: got}
	}
	return nil
}

// checkDue compares due dates against the tasks created in this step.
func checkDue(want map[string]string, got StepResult) error {
	if len(want) == 0 {
		return nil
	}

	rules := make([]string, 0, len(want))
	for rule := range want {
		rules = append(rules, rule)
	}
	sort.Strings(rules)

	for _, rule := range rules {
		idx := slices.IndexFunc(got.Created, func(t TaskView) bool { return t.RuleID == rule })
		if idx < 0 {
			return &AssertionError{Field: "due." + rule, Expected: want[rule], Actual: "no task created"}
		}
		if got.Created[idx].DueDate != want[rule] {
			return &AssertionError{Field: "due." + rule, Expected: want[rule], Actual: got.Created[idx].DueDate}
		}
	}
	return nil
}

// compareRuleSets compares two rule id lists ignoring order.
func compareRuleSets(field string, want, got []string) error {
	w := slices.Clone(want)
	g := slices.Clone(got)
	sort.Strings(w)
	sort.Strings(g)
	if slices.Equal(w, g) {
		return nil
	}
	return &AssertionError{Field: field, Expected: formatRules(w), Actual: formatRules(g)}
}

func formatRules(rules []string) string {
	return "[" + strings.Join(rules, ", ") + "]"
}

func quoteOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return fmt.Sprintf("%q", s)
}
