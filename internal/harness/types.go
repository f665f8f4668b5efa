package harness

// TaskView is the part of a created task that scenarios snapshot.
type TaskView struct {
	ID       string `json:"id"`
	RuleID   string `json:"rule_id"`
	Priority string `json:"priority"`
	DueDate  string `json:"due_date"`
}

// StepResult records what one step did.
type StepResult struct {
	Name    string `json:"name"`
	Action  string `json:"action"`
	Skipped string `json:"skipped,omitempty"`

	// State is the evaluated state vector; "-" when nothing holds or the
	// pass did not run.
	State string `json:"state"`

	Created   []TaskView `json:"created,omitempty"`
	Completed []string   `json:"completed,omitempty"` // rule ids
	Open      []string   `json:"open,omitempty"`      // rule ids, sorted
	Links     []string   `json:"links,omitempty"`     // booking back-link after the step
	Writes    int        `json:"writes"`
	Error     string     `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step matched its expectations.
	Pass bool `json:"pass"`

	// Steps holds one entry per executed step, in order.
	Steps []StepResult `json:"steps"`

	// Errors contains expectation mismatches. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds an error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
