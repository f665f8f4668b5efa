package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/relance/internal/config"
	"github.com/roach88/relance/internal/engine"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
	"github.com/roach88/relance/internal/testutil"
)

// Harness is the scenario execution engine.
// It drives a Reconciler with a fake clock and sequential task ids.
type Harness struct {
	store  *store.Store
	rec    *engine.Reconciler
	clock  *testutil.FakeClock
	logger *slog.Logger

	entity string
	tenant string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create fresh in-memory database
//  2. Build a Reconciler from the scenario configuration
//  3. For each step: advance the clock, write the booking records, run the
//     action, record and check the outcome
//
// The returned error is reserved for infrastructure failures; expectation
// mismatches are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := scenario.config()
	if err != nil {
		return nil, err
	}

	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	clk := testutil.NewFakeClock(start)

	st, err := store.Open(store.DriverSQLite, ":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rec := engine.New(st, st,
		engine.WithClock(clk),
		engine.WithConfig(config.NewStatic(cfg)),
		engine.WithIDGenerator(testutil.NewSequentialIDs("task")),
		engine.WithLinker(st),
	)

	h := &Harness{
		store:  st,
		rec:    rec,
		clock:  clk,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		got, err := h.executeStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}
		result.Steps = append(result.Steps, got)

		for _, e := range CheckStep(step, got) {
			result.AddError(fmt.Sprintf("step %d (%s): %v", i, step.Name, e))
		}
	}

	return result, nil
}

// executeStep applies one step. Errors returned by the action itself are
// captured in StepResult.Error; only store failures are returned.
func (h *Harness) executeStep(ctx context.Context, step Step) (StepResult, error) {
	d, err := step.advance()
	if err != nil {
		return StepResult{}, err
	}
	h.clock.Advance(d)

	if err := h.write(ctx, step); err != nil {
		return StepResult{}, err
	}

	got := StepResult{Name: step.Name, Action: step.action(), State: ir.StateVector{}.String()}

	var (
		rep    engine.Report
		runErr error
	)
	switch step.action() {
	case ActionReconcile:
		rep, runErr = h.rec.Reconcile(ctx, ir.Trigger{EntityID: h.entity, TenantID: h.tenant, Origin: ir.OriginUser})
	case ActionSystem:
		rep, runErr = h.rec.Reconcile(ctx, ir.Trigger{EntityID: h.entity, TenantID: h.tenant, Origin: ir.OriginSystem})
	case ActionRepair:
		rep, runErr = h.rec.Repair(ctx, h.entity, h.tenant)
	case ActionDelete:
		runErr = h.rec.DeleteAutomaticTasks(ctx, h.entity, h.tenant)
		if err := h.store.DeleteBooking(ctx, h.entity, ir.OriginUser); err != nil {
			return StepResult{}, fmt.Errorf("delete booking: %w", err)
		}
	}
	if runErr != nil {
		got.Error = runErr.Error()
	}

	got.Skipped = string(rep.Skipped)
	if rep.Ran() && step.action() != ActionDelete {
		got.State = rep.State.String()
	}
	got.Writes = rep.Writes()

	tasks, err := h.store.ListTasks(ctx, h.entity)
	if err != nil {
		return StepResult{}, err
	}
	ruleOf := make(map[string]string, len(tasks))
	for _, t := range tasks {
		ruleOf[t.ID] = t.RuleID
		if t.Open() {
			got.Open = append(got.Open, t.RuleID)
		}
	}
	sort.Strings(got.Open)

	for _, t := range rep.Created {
		got.Created = append(got.Created, TaskView{
			ID:       t.ID,
			RuleID:   t.RuleID,
			Priority: string(t.Priority),
			DueDate:  t.DueDate.Format(time.DateOnly),
		})
	}
	for _, id := range rep.Completed {
		got.Completed = append(got.Completed, ruleOf[id])
	}

	b, err := h.store.GetBooking(ctx, h.entity)
	switch {
	case errors.Is(err, store.ErrEntityNotFound):
		// Deleted in this or an earlier step
	case err != nil:
		return StepResult{}, err
	case len(b.TaskIDs) > 0:
		got.Links = b.TaskIDs
	}

	h.logger.Info("step completed",
		"step", step.Name,
		"action", got.Action,
		"skipped", got.Skipped,
		"writes", got.Writes,
	)
	return got, nil
}

// write upserts the step's booking and sub-records.
func (h *Harness) write(ctx context.Context, step Step) error {
	if step.Booking != nil {
		if err := h.store.PutBooking(ctx, *step.Booking, ir.OriginUser); err != nil {
			return fmt.Errorf("put booking: %w", err)
		}
		h.entity = step.Booking.ID
		h.tenant = step.Booking.TenantID
	}
	if step.Form != "" {
		f := ir.Form{ID: "form-" + h.entity, BookingID: h.entity, Status: step.Form}
		if err := h.store.PutForm(ctx, f, ir.OriginUser); err != nil {
			return fmt.Errorf("put form: %w", err)
		}
	}
	if step.Contract != "" {
		c := ir.Contract{ID: "contract-" + h.entity, BookingID: h.entity, Status: step.Contract}
		if err := h.store.PutContract(ctx, c, ir.OriginUser); err != nil {
			return fmt.Errorf("put contract: %w", err)
		}
	}
	return nil
}
