package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relance/internal/catalog"
	"github.com/roach88/relance/internal/config"
	"github.com/roach88/relance/internal/debounce"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/metrics"
	"github.com/roach88/relance/internal/store"
	"github.com/roach88/relance/internal/testutil"
)

func TestNew_Defaults(t *testing.T) {
	clk := testutil.NewFakeClock(t0)
	s := setupTestStore(t, clk)

	rec := New(s, s)

	assert.NotNil(t, rec.Guard())
	assert.Equal(t, config.Default().Cooldown, rec.Guard().Cooldown())
	assert.Equal(t, catalog.Default().Len(), rec.Catalog().Len())
	assert.IsType(t, UUIDv7Generator{}, rec.ids)
	assert.IsType(t, metrics.Nop{}, rec.metrics)
}

// The lifecycle walk-through: created, form received, form validated, re-run.
func TestReconcile_BookingLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	// Booking created, no form
	f.put(t, "b-1", "", "")
	rep, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	require.Len(t, rep.Created, 1)

	open := f.open(t, "b-1")
	require.Contains(t, open, catalog.RuleSendForm)
	sendForm := open[catalog.RuleSendForm]
	assert.Equal(t, ir.PriorityHigh, sendForm.Priority)
	assert.Equal(t, day(2026, 3, 5), sendForm.DueDate, "high urgency: three days")
	assert.Equal(t, "Send the intake form", sendForm.DisplayName)
	assert.Equal(t, "entityCreated", sendForm.Metadata["state"])
	assert.Equal(t, "high", sendForm.Metadata["urgency"])
	assert.Equal(t, ir.EngineVersion, sendForm.Metadata["engine_version"])
	assert.Equal(t, catalog.Default().Digest()[:12], sendForm.Metadata["catalog"])
	assert.Equal(t, 2, rep.Writes(), "one create plus the back-link")

	// Form received
	f.put(t, "b-1", ir.FormReceived, "")
	rep, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{sendForm.ID}, rep.Completed)

	open = f.open(t, "b-1")
	assert.ElementsMatch(t, []string{catalog.RuleValidateForm}, ruleIDs(open))

	// Form validated
	f.put(t, "b-1", ir.FormValidated, "")
	rep, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	require.Len(t, rep.Completed, 1)
	require.Len(t, rep.Created, 1)

	open = f.open(t, "b-1")
	assert.ElementsMatch(t, []string{catalog.RuleSendContract}, ruleIDs(open))
	assert.Equal(t, day(2026, 3, 4), open[catalog.RuleSendContract].DueDate, "critical urgency: two days")

	// Completed tasks are retained with the automatic reason
	var completed []ir.DerivedTask
	for _, task := range f.all(t, "b-1") {
		if task.Completed {
			completed = append(completed, task)
		}
	}
	require.Len(t, completed, 2)
	for _, task := range completed {
		assert.True(t, task.CompletedAutomatically)
		assert.Equal(t, CompletionReason, task.CompletionReason)
		assert.NotNil(t, task.CompletedAt)
	}

	// Back-link holds exactly the open task
	b, err := f.store.GetBooking(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{open[catalog.RuleSendContract].ID}, b.TaskIDs)

	// Re-run with no change: no writes
	rep, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.True(t, rep.Ran())
	assert.Zero(t, rep.Writes())
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", ir.FormReceived, ir.ContractSent)

	first, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	require.NotZero(t, first.Writes())
	before := f.all(t, "b-1")

	for i := 0; i < 3; i++ {
		rep, err := f.reconcile(t, "b-1")
		require.NoError(t, err)
		assert.Zero(t, rep.Writes())
	}
	assert.Equal(t, before, f.all(t, "b-1"))
}

func TestReconcile_NeverResurrects(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)

	f.put(t, "b-1", ir.FormSent, "")
	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Empty(t, f.open(t, "b-1"))

	// Back to a draft form: a fresh task, the completed one stays completed
	f.put(t, "b-1", ir.FormDraft, "")
	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)

	tasks := f.all(t, "b-1")
	require.Len(t, tasks, 2)
	assert.True(t, tasks[0].Completed)
	assert.False(t, tasks[1].Completed)
	assert.NotEqual(t, tasks[0].ID, tasks[1].ID)
}

func TestReconcile_Debounce(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	ctx := context.Background()
	trig := ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser}

	rep, err := f.rec.Reconcile(ctx, trig)
	require.NoError(t, err)
	assert.True(t, rep.Ran())

	f.clock.Advance(time.Second)
	rep, err = f.rec.Reconcile(ctx, trig)
	require.NoError(t, err)
	assert.Equal(t, SkipDebounced, rep.Skipped)

	f.clock.Advance(2 * time.Second)
	rep, err = f.rec.Reconcile(ctx, trig)
	require.NoError(t, err)
	assert.True(t, rep.Ran(), "window measured from the admitted call")

	assert.Equal(t, 1, f.rm.pass(metrics.OutcomeDebounced))
}

func TestReconcile_SelfTriggeredDoesNotConsumeCooldown(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	ctx := context.Background()

	rep, err := f.rec.Reconcile(ctx, ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginSystem})
	require.NoError(t, err)
	assert.Equal(t, SkipSelfTriggered, rep.Skipped)
	assert.Zero(t, f.rec.Guard().Len())

	rep, err = f.rec.Reconcile(ctx, ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	assert.True(t, rep.Ran())
}

func TestReconcile_KillSwitch(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	f.cfg.Enabled = false

	rep, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Equal(t, SkipDisabled, rep.Skipped)

	rep, err = f.rec.Repair(context.Background(), "b-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, SkipDisabled, rep.Skipped, "repair honors the master switch")

	assert.Empty(t, f.all(t, "b-1"))
}

func TestReconcile_TenantDisabled(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	f.cfg.DisabledTenants = []string{"t-1"}

	rep, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Equal(t, SkipTenantDisabled, rep.Skipped)

	// Tenant only known after fetch
	f.clock.Advance(5 * time.Second)
	rep, err = f.rec.Reconcile(context.Background(), ir.Trigger{EntityID: "b-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	assert.Equal(t, SkipTenantDisabled, rep.Skipped)

	assert.Empty(t, f.all(t, "b-1"))
}

func TestReconcile_UnknownTenantResolvedFromBooking(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")

	rep, err := f.rec.Reconcile(context.Background(), ir.Trigger{EntityID: "b-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	assert.Equal(t, "t-1", rep.TenantID)
	assert.Contains(t, f.open(t, "b-1"), catalog.RuleSendForm)
}

func TestReconcile_ExperimentalRuleNeedsEnabling(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", ir.FormValidated, ir.ContractSigned)

	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Empty(t, f.open(t, "b-1"))

	f.cfg.ExperimentalRules = []string{catalog.RuleSendInvoice}
	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)

	open := f.open(t, "b-1")
	require.Contains(t, open, catalog.RuleSendInvoice)
	assert.Equal(t, day(2026, 3, 16), open[catalog.RuleSendInvoice].DueDate, "low urgency: fourteen days")
	assert.Equal(t, ir.PriorityMedium, open[catalog.RuleSendInvoice].Priority)
}

func TestReconcile_DueDateCappedByBookingDate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tomorrow := day(2026, 3, 3)
	require.NoError(t, f.store.PutBooking(ctx, ir.Booking{ID: "b-1", TenantID: "t-1", Date: &tomorrow}, ir.OriginUser))

	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)

	task := f.open(t, "b-1")[catalog.RuleSendForm]
	assert.Equal(t, tomorrow, task.DueDate)
	assert.Equal(t, "2026-03-03", task.Metadata["booking_date"])
}

func TestReconcile_UsesTriggerSubRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")

	// The form exists only on the trigger; the booking is fetched
	f.clock.Advance(5 * time.Second)
	_, err := f.rec.Reconcile(context.Background(), ir.Trigger{
		EntityID: "b-1",
		TenantID: "t-1",
		Form:     &ir.Form{ID: "f-1", BookingID: "b-1", Status: ir.FormReceived},
		Origin:   ir.OriginUser,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{catalog.RuleValidateForm}, ruleIDs(f.open(t, "b-1")))
}

func TestReconcile_FullyPrefetchedSkipsFetch(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	b, err := f.store.GetBooking(context.Background(), "b-1")
	require.NoError(t, err)

	// Contract says signed on the trigger only
	rep, err := f.rec.Reconcile(context.Background(), ir.Trigger{
		EntityID: "b-1",
		TenantID: "t-1",
		Booking:  b,
		Form:     &ir.Form{ID: "f-1", BookingID: "b-1", Status: ir.FormValidated},
		Contract: &ir.Contract{ID: "c-1", BookingID: "b-1", Status: ir.ContractSigned},
		Origin:   ir.OriginUser,
	})
	require.NoError(t, err)
	assert.True(t, rep.State.ContractSigned)
	assert.Empty(t, rep.Created)
}

func TestReconcile_UnknownEntityAbortsWithoutWrites(t *testing.T) {
	f := newFixture(t, nil)

	rep, err := f.reconcile(t, "missing")
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
	assert.Zero(t, rep.Writes())
	assert.Equal(t, 1, f.rm.pass(metrics.OutcomeFetchFailed))
}

func TestReconcile_EmptyEntityID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.rec.Reconcile(context.Background(), ir.Trigger{Origin: ir.OriginUser})
	require.Error(t, err)
}

func TestReconcile_FetchFailureReleasesGuard(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.reconcile(t, "b-1")
	require.True(t, IsFetchError(err))

	// Retry inside the cooldown window once the booking exists
	f.put(t, "b-1", "", "")
	rep, err := f.rec.Reconcile(context.Background(), ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	assert.Empty(t, rep.Skipped)
	assert.Contains(t, f.open(t, "b-1"), catalog.RuleSendForm)
}

func TestRepair_WrongTenantRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	f.cfg.DisabledTenants = []string{"t-1"}

	rep, err := f.rec.Repair(context.Background(), "b-1", "other")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTenantMismatch)
	assert.Contains(t, err.Error(), "belongs to tenant t-1")
	assert.Zero(t, rep.Writes())
	assert.Equal(t, 1, f.rm.pass(metrics.OutcomeTenantMismatch))

	// Without a tenant the owner is resolved, and it is disabled
	rep, err = f.rec.Repair(context.Background(), "b-1", "")
	require.NoError(t, err)
	assert.Equal(t, SkipTenantDisabled, rep.Skipped)
	assert.Equal(t, "t-1", rep.TenantID)

	assert.Empty(t, f.all(t, "b-1"))
}

func TestReconcile_WrongTenantLeavesNoOrphans(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, "b-1", "", "")

	_, err := f.rec.Reconcile(ctx, ir.Trigger{EntityID: "b-1", TenantID: "other", Origin: ir.OriginUser})
	require.ErrorIs(t, err, ErrTenantMismatch)
	assert.Empty(t, f.all(t, "b-1"))

	// The rejected call gave its cooldown slot back
	rep, err := f.rec.Reconcile(ctx, ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	require.Len(t, rep.Created, 1)
	assert.Equal(t, "t-1", rep.Created[0].TenantID)

	// Tasks are filed under the owner, so progression completes them
	f.put(t, "b-1", ir.FormSent, "")
	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Empty(t, f.open(t, "b-1"))
}

func TestReconcile_BestEffortPerRule(t *testing.T) {
	boom := errors.New("insert failed")
	var faulty *faultyTasks
	f := newFixture(t, func(s *store.Store) TaskStore {
		faulty = &faultyTasks{Store: s, failCreate: map[string]error{catalog.RuleValidateForm: boom}}
		return faulty
	})
	f.cfg.ExperimentalRules = []string{catalog.RuleSendInvoice}

	// Both validate-form and send-invoice are desired
	f.put(t, "b-1", ir.FormReceived, ir.ContractSigned)

	rep, err := f.reconcile(t, "b-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	ruleErrs := RuleErrors(err)
	require.Len(t, ruleErrs, 1)
	assert.Equal(t, catalog.RuleValidateForm, ruleErrs[0].RuleID)
	assert.Equal(t, OpCreate, ruleErrs[0].Op)
	assert.Len(t, rep.Errors, 1)

	assert.ElementsMatch(t, []string{catalog.RuleSendInvoice}, ruleIDs(f.open(t, "b-1")))
	assert.Equal(t, 1, f.rm.pass(metrics.OutcomePartialFailure))

	// Once the store recovers the next pass fills the gap
	faulty.failCreate = nil
	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{catalog.RuleSendInvoice, catalog.RuleValidateForm}, ruleIDs(f.open(t, "b-1")))
}

func TestReconcile_CompleteFailureKeepsTaskOpen(t *testing.T) {
	var faulty *faultyTasks
	f := newFixture(t, func(s *store.Store) TaskStore {
		faulty = &faultyTasks{Store: s}
		return faulty
	})
	f.put(t, "b-1", "", "")
	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	taskID := f.open(t, "b-1")[catalog.RuleSendForm].ID

	faulty.failComplete = map[string]error{taskID: errors.New("update failed")}
	f.put(t, "b-1", ir.FormSent, "")
	_, err = f.reconcile(t, "b-1")
	require.Error(t, err)

	ruleErrs := RuleErrors(err)
	require.Len(t, ruleErrs, 1)
	assert.Equal(t, OpComplete, ruleErrs[0].Op)
	assert.Equal(t, taskID, ruleErrs[0].TaskID)
	assert.Contains(t, f.open(t, "b-1"), catalog.RuleSendForm)
}

func TestReconcile_DuplicateOnCreateTreatedAsExisting(t *testing.T) {
	var faulty *faultyTasks
	f := newFixture(t, func(s *store.Store) TaskStore {
		faulty = &faultyTasks{Store: s}
		return faulty
	})
	f.put(t, "b-1", "", "")
	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	winner := f.open(t, "b-1")[catalog.RuleSendForm].ID

	// The next read misses the winner, as a racing pass would
	faulty.hideOnFind = true
	rep, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Empty(t, rep.Created)
	assert.True(t, rep.Linked)

	b, err := f.store.GetBooking(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{winner}, b.TaskIDs)
}

func TestReconcile_ManualTasksUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, "b-1", "", "")

	manual := ir.DerivedTask{
		ID:          "manual-1",
		RuleID:      catalog.RuleSendForm,
		EntityID:    "b-1",
		TenantID:    "t-1",
		DisplayName: "Call the venue",
		Priority:    ir.PriorityLow,
		DueDate:     day(2026, 3, 10),
	}
	_, err := f.store.CreateManualTask(ctx, manual)
	require.NoError(t, err)

	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)
	f.put(t, "b-1", ir.FormValidated, ir.ContractSent)
	_, err = f.reconcile(t, "b-1")
	require.NoError(t, err)

	var got *ir.DerivedTask
	for _, task := range f.all(t, "b-1") {
		if task.ID == "manual-1" {
			got = &task
		}
	}
	require.NotNil(t, got)
	assert.False(t, got.Completed)
	assert.False(t, got.Automatic)
}

func TestRepair_BypassesGuardAndRelinks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, "b-1", "", "")

	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)

	// Drift the back-link, then repair inside the cooldown window
	require.NoError(t, f.store.LinkTasks(ctx, "b-1", nil))
	rep, err := f.rec.Repair(ctx, "b-1", "t-1")
	require.NoError(t, err)
	assert.True(t, rep.Forced)
	assert.True(t, rep.Linked)
	assert.Empty(t, rep.Created)

	b, err := f.store.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, b.TaskIDs, 1)

	// Nothing to repair: no writes
	rep, err = f.rec.Repair(ctx, "b-1", "t-1")
	require.NoError(t, err)
	assert.Zero(t, rep.Writes())
}

func TestRepair_ConcurrentAtMostOneActive(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.rec.Repair(context.Background(), "b-1", "t-1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("repair failed: %v", err)
	}
	assert.Len(t, f.open(t, "b-1"), 1)
	assert.Len(t, f.all(t, "b-1"), 1)
}

func TestRepair_TwoReconcilersShareStore(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")

	// Separate lock tables: only the store's unique index keeps them apart
	other := New(f.store, f.store,
		WithClock(f.clock),
		WithConfig(config.NewStatic(f.cfg)),
		WithIDGenerator(testutil.NewSequentialIDs("other")),
		WithLinker(f.store),
	)

	var wg sync.WaitGroup
	for _, rec := range []*Reconciler{f.rec, other, f.rec, other} {
		wg.Add(1)
		go func(rec *Reconciler) {
			defer wg.Done()
			_, err := rec.Repair(context.Background(), "b-1", "t-1")
			assert.NoError(t, err)
		}(rec)
	}
	wg.Wait()

	assert.Len(t, f.open(t, "b-1"), 1)
}

func TestReconcile_ConcurrentTriggersSameEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := f.rec.Reconcile(context.Background(), ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
			assert.NoError(t, err)
			if rep.Ran() {
				mu.Lock()
				ran++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ran, "guard admits exactly one concurrent caller")
	assert.Len(t, f.open(t, "b-1"), 1)
}

func TestReconcile_CustomGuardAndCatalog(t *testing.T) {
	only, err := catalog.New(catalog.DefaultRules()[1])
	require.NoError(t, err)

	clk := testutil.NewFakeClock(t0)
	guard := debounce.New(clk, time.Minute)
	f := newFixture(t, nil, WithCatalog(only), WithGuard(guard))
	f.put(t, "b-1", "", "")

	_, err = f.rec.Reconcile(context.Background(), ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	assert.Empty(t, f.open(t, "b-1"), "send-form not in the catalog")

	rep, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	assert.Equal(t, SkipDebounced, rep.Skipped, "one-minute window from the injected guard")
}

func TestRepair_BackLinkOrderIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.cfg.ExperimentalRules = []string{catalog.RuleSendInvoice}
	f.put(t, "b-1", "", ir.ContractSigned)

	rep, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	require.Len(t, rep.Created, 2)

	b, err := f.store.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, b.TaskIDs, 2)
	require.NoError(t, f.store.LinkTasks(ctx, "b-1", []string{b.TaskIDs[1], b.TaskIDs[0]}))

	rep, err = f.rec.Repair(ctx, "b-1", "t-1")
	require.NoError(t, err)
	assert.False(t, rep.Linked, "same ids in another order")
	assert.Zero(t, rep.Writes())
}
