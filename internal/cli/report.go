package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/roach88/relance/internal/engine"
)

// TaskView is a created task in command output.
type TaskView struct {
	ID       string `json:"id"`
	RuleID   string `json:"rule_id"`
	Priority string `json:"priority"`
	DueDate  string `json:"due_date"`
}

// ReportView is the output form of an engine.Report.
type ReportView struct {
	EntityID  string     `json:"entity_id"`
	TenantID  string     `json:"tenant_id"`
	Skipped   string     `json:"skipped,omitempty"`
	Forced    bool       `json:"forced,omitempty"`
	State     string     `json:"state,omitempty"`
	Created   []TaskView `json:"created,omitempty"`
	Completed []string   `json:"completed,omitempty"`
	Linked    bool       `json:"linked,omitempty"`
	Writes    int        `json:"writes"`
	Errors    []string   `json:"errors,omitempty"`
}

func newReportView(rep engine.Report) ReportView {
	v := ReportView{
		EntityID:  rep.EntityID,
		TenantID:  rep.TenantID,
		Skipped:   string(rep.Skipped),
		Forced:    rep.Forced,
		Completed: rep.Completed,
		Linked:    rep.Linked,
		Writes:    rep.Writes(),
	}
	if rep.Ran() {
		v.State = rep.State.String()
	}
	for _, t := range rep.Created {
		v.Created = append(v.Created, TaskView{
			ID:       t.ID,
			RuleID:   t.RuleID,
			Priority: string(t.Priority),
			DueDate:  t.DueDate.Format(time.DateOnly),
		})
	}
	for _, err := range rep.Errors {
		v.Errors = append(v.Errors, err.Error())
	}
	return v
}

// writeText renders the report for humans.
func (v ReportView) writeText(w io.Writer) {
	if v.Skipped != "" {
		fmt.Fprintf(w, "booking %s: skipped (%s)\n", v.EntityID, v.Skipped)
		return
	}

	fmt.Fprintf(w, "booking %s (tenant %s): %s\n", v.EntityID, v.TenantID, v.State)
	for _, t := range v.Created {
		fmt.Fprintf(w, "  created   %s  %s  due %s  [%s]\n", t.RuleID, t.Priority, t.DueDate, t.ID)
	}
	for _, id := range v.Completed {
		fmt.Fprintf(w, "  completed %s\n", id)
	}
	if v.Linked {
		fmt.Fprintln(w, "  back-link updated")
	}
	fmt.Fprintf(w, "%d write(s)\n", v.Writes)
}
