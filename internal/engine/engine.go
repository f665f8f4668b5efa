package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/relance/internal/catalog"
	"github.com/roach88/relance/internal/clock"
	"github.com/roach88/relance/internal/config"
	"github.com/roach88/relance/internal/debounce"
	"github.com/roach88/relance/internal/duedate"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/metrics"
	"github.com/roach88/relance/internal/state"
	"github.com/roach88/relance/internal/store"
)

// CompletionReason is stamped on tasks the engine completes.
const CompletionReason = "action performed automatically"

// TaskStore persists derived tasks.
type TaskStore interface {
	FindAutomaticTasks(ctx context.Context, entityID, tenantID string) ([]ir.DerivedTask, error)
	Create(ctx context.Context, task ir.DerivedTask) (string, error)
	MarkCompleted(ctx context.Context, taskID, reason string) error
	DeleteAllForEntity(ctx context.Context, entityID, tenantID string) (int, error)
}

// EntityStateProvider loads a booking with its form and contract.
// Fetch returns an error wrapping store.ErrEntityNotFound for unknown ids.
type EntityStateProvider interface {
	Fetch(ctx context.Context, entityID string) (ir.Snapshot, error)
}

// TaskLinker writes the open task ids back onto the booking. The write
// must be tagged OriginSystem so that it does not trigger another pass.
type TaskLinker interface {
	LinkTasks(ctx context.Context, entityID string, taskIDs []string) error
}

// TaskDeleter is optionally implemented by a TaskStore. Cleanup falls back
// to it, task by task, when the bulk delete fails.
type TaskDeleter interface {
	DeleteTask(ctx context.Context, taskID string) error
}

// Reconciler derives follow-up tasks from booking state.
//
// Thread-safety model:
//   - Reconcile, Repair, DeleteAutomaticTasks: safe from any goroutine
//   - Passes for the same entity are serialized; different entities run
//     concurrently
//
// Configuration is resolved once at the start of every call, so a reload
// never splits a pass between two configurations.
type Reconciler struct {
	tasks    TaskStore
	provider EntityStateProvider
	linker   TaskLinker

	catalog atomic.Pointer[catalog.Catalog]
	config  config.Source
	guard   *debounce.Guard
	clock   clock.Clock
	due     *duedate.Calculator
	ids     IDGenerator
	metrics metrics.Recorder
	locks   *entityLocks
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for due dates and the default guard.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithGuard sets the debounce guard. By default a guard is built from the
// configured cooldown and the Reconciler's clock.
func WithGuard(g *debounce.Guard) Option {
	return func(r *Reconciler) { r.guard = g }
}

// WithConfig sets the configuration source. Default: config.Default().
func WithConfig(src config.Source) Option {
	return func(r *Reconciler) { r.config = src }
}

// WithCatalog replaces the built-in rule catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(r *Reconciler) { r.catalog.Store(c) }
}

// WithDueDates pins the due date calculator. Without it the calculator is
// rebuilt from the configured offsets on every pass.
func WithDueDates(c *duedate.Calculator) Option {
	return func(r *Reconciler) { r.due = c }
}

// WithIDGenerator sets the task id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Reconciler) { r.ids = g }
}

// WithMetrics sets the metrics recorder. Default: metrics.Nop.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithLinker sets the back-link writer. Without it open task ids are not
// written back.
func WithLinker(l TaskLinker) Option {
	return func(r *Reconciler) { r.linker = l }
}

// New creates a Reconciler over the given task store and state provider.
func New(tasks TaskStore, provider EntityStateProvider, opts ...Option) *Reconciler {
	r := &Reconciler{
		tasks:    tasks,
		provider: provider,
		locks:    newEntityLocks(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.clock == nil {
		r.clock = clock.System{}
	}
	if r.config == nil {
		r.config = config.NewStatic(nil)
	}
	if r.catalog.Load() == nil {
		r.catalog.Store(catalog.Default())
	}
	if r.ids == nil {
		r.ids = UUIDv7Generator{}
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	if r.guard == nil {
		r.guard = debounce.New(r.clock, r.config.Current().Cooldown)
	}

	return r
}

// Guard returns the debounce guard, so callers can run its sweeper.
func (r *Reconciler) Guard() *debounce.Guard {
	return r.guard
}

// Catalog returns the rule catalog in use.
func (r *Reconciler) Catalog() *catalog.Catalog {
	return r.catalog.Load()
}

// SetCatalog swaps the rule catalog. Passes already running finish with
// the catalog they started with. A nil catalog is ignored.
func (r *Reconciler) SetCatalog(c *catalog.Catalog) {
	if c != nil {
		r.catalog.Store(c)
	}
}

// Reconcile runs one pass for the trigger's entity.
//
// The pass is a silent no-op (Report.Skipped set, nil error) when the
// trigger was caused by the engine itself, when automation is disabled
// globally or for the tenant, or when the entity is inside its debounce
// window. Self-triggered events are rejected before the guard is consulted
// so they never consume a cooldown slot.
func (r *Reconciler) Reconcile(ctx context.Context, trig ir.Trigger) (Report, error) {
	start := r.clock.Now()
	rep := Report{EntityID: trig.EntityID, TenantID: trig.TenantID}
	if rep.TenantID == "" && trig.Booking != nil {
		rep.TenantID = trig.Booking.TenantID
	}

	if trig.EntityID == "" {
		return rep, errors.New("reconcile: trigger has no entity id")
	}

	if trig.Origin == ir.OriginSystem {
		return r.skip(rep, SkipSelfTriggered), nil
	}

	cfg := r.config.Current()
	if reason := switchesOff(cfg, rep.TenantID); reason != "" {
		return r.skip(rep, reason), nil
	}

	admitted := r.guard.Admit(trig.EntityID)
	r.metrics.GuardEntries(r.guard.Len())
	if !admitted {
		return r.skip(rep, SkipDebounced), nil
	}

	return r.run(ctx, trig, cfg, false, start)
}

// Repair runs a forced pass: state is re-fetched and the debounce guard is
// bypassed. The global and tenant switches still apply.
func (r *Reconciler) Repair(ctx context.Context, entityID, tenantID string) (Report, error) {
	start := r.clock.Now()
	rep := Report{EntityID: entityID, TenantID: tenantID, Forced: true}

	if entityID == "" {
		return rep, errors.New("repair: no entity id")
	}

	cfg := r.config.Current()
	if reason := switchesOff(cfg, tenantID); reason != "" {
		return r.skip(rep, reason), nil
	}

	trig := ir.Trigger{EntityID: entityID, TenantID: tenantID, Origin: ir.OriginUser}
	return r.run(ctx, trig, cfg, true, start)
}

// switchesOff returns the skip reason for the master and tenant switches.
// An unknown tenant ("") is only checked against the master switch here;
// run re-checks once the booking is loaded.
func switchesOff(cfg *config.Config, tenant string) SkipReason {
	if !cfg.Enabled {
		return SkipDisabled
	}
	if tenant != "" && !cfg.TenantEnabled(tenant) {
		return SkipTenantDisabled
	}
	return ""
}

func (r *Reconciler) skip(rep Report, reason SkipReason) Report {
	rep.Skipped = reason
	r.metrics.Pass(string(reason), 0)
	slog.Debug("reconcile skipped",
		"entity_id", rep.EntityID,
		"tenant_id", rep.TenantID,
		"reason", reason,
	)
	return rep
}

// run performs the pass under the entity lock.
func (r *Reconciler) run(ctx context.Context, trig ir.Trigger, cfg *config.Config, forced bool, start time.Time) (Report, error) {
	unlock := r.locks.lock(trig.EntityID)
	defer unlock()

	rep := Report{EntityID: trig.EntityID, TenantID: trig.TenantID, Forced: forced}

	snap, existing, err := r.load(ctx, trig, forced)
	if err != nil {
		// A failed fetch gives the slot back so the caller can retry
		r.release(trig.EntityID, forced)
		r.metrics.Pass(metrics.OutcomeFetchFailed, r.clock.Now().Sub(start))
		slog.Warn("reconcile aborted: state unavailable",
			"entity_id", trig.EntityID,
			"error", err,
		)
		return rep, &FetchError{EntityID: trig.EntityID, Err: err}
	}

	owner := snap.Booking.TenantID
	if rep.TenantID != "" && rep.TenantID != owner {
		r.release(trig.EntityID, forced)
		r.metrics.Pass(metrics.OutcomeTenantMismatch, r.clock.Now().Sub(start))
		slog.Warn("reconcile rejected: tenant mismatch",
			"entity_id", trig.EntityID,
			"tenant_id", rep.TenantID,
			"owner_tenant_id", owner,
		)
		return rep, fmt.Errorf("booking %s belongs to tenant %s, not %s: %w",
			trig.EntityID, owner, rep.TenantID, ErrTenantMismatch)
	}
	rep.TenantID = owner
	if !cfg.TenantEnabled(owner) {
		return r.skip(rep, SkipTenantDisabled), nil
	}

	vector := state.EvaluateSnapshot(snap)
	rep.State = vector

	open := make(map[string]ir.DerivedTask)
	var openOrder []string
	for _, t := range existing {
		if !t.Open() {
			continue
		}
		if _, dup := open[t.RuleID]; dup {
			// Only possible if the store lost its unique index
			slog.Warn("multiple open tasks for rule",
				"entity_id", trig.EntityID,
				"rule_id", t.RuleID,
				"task_id", t.ID,
			)
			continue
		}
		open[t.RuleID] = t
		openOrder = append(openOrder, t.ID)
	}

	cat := r.catalog.Load()
	calc := r.due
	if calc == nil {
		calc = duedate.New(duedate.Offsets(cfg.DueOffsetsDays))
	}
	now := r.clock.Now()

	var (
		errs     []error
		conflict bool
	)
	for _, rule := range cat.Active(cfg.ExperimentalSet()) {
		desired := catalog.Desired(rule, vector)
		task, has := open[rule.ID]

		switch {
		case desired && !has:
			t := r.newTask(cat, rule, snap, vector, rep.TenantID, calc, now)
			id, err := r.tasks.Create(ctx, t)
			if errors.Is(err, store.ErrDuplicateActiveTask) {
				// A concurrent writer created it first
				conflict = true
				slog.Debug("task already exists",
					"entity_id", trig.EntityID,
					"rule_id", rule.ID,
				)
				continue
			}
			if err != nil {
				errs = append(errs, r.ruleFailed(trig.EntityID, rule.ID, OpCreate, "", err))
				continue
			}
			t.ID = id
			open[rule.ID] = t
			openOrder = append(openOrder, id)
			rep.Created = append(rep.Created, t)
			r.metrics.TaskCreated(rule.ID)
			slog.Info("task created",
				"entity_id", trig.EntityID,
				"rule_id", rule.ID,
				"task_id", id,
				"due_date", t.DueDate.Format(time.DateOnly),
			)

		case !desired && has:
			if err := r.tasks.MarkCompleted(ctx, task.ID, CompletionReason); err != nil {
				errs = append(errs, r.ruleFailed(trig.EntityID, rule.ID, OpComplete, task.ID, err))
				continue
			}
			delete(open, rule.ID)
			openOrder = slices.DeleteFunc(openOrder, func(id string) bool { return id == task.ID })
			rep.Completed = append(rep.Completed, task.ID)
			r.metrics.TaskCompleted(rule.ID)
			slog.Info("task completed",
				"entity_id", trig.EntityID,
				"rule_id", rule.ID,
				"task_id", task.ID,
			)
		}
	}

	mutated := len(rep.Created) > 0 || len(rep.Completed) > 0 || conflict
	if r.linker != nil && (mutated || forced) {
		linked, err := r.link(ctx, trig.EntityID, rep.TenantID, snap.Booking.TaskIDs, openOrder, conflict, forced)
		if err != nil {
			errs = append(errs, err)
		}
		rep.Linked = linked
	}

	rep.Errors = errs
	outcome := metrics.OutcomeApplied
	if len(errs) > 0 {
		outcome = metrics.OutcomePartialFailure
	}
	r.metrics.Pass(outcome, r.clock.Now().Sub(start))

	slog.Debug("reconcile done",
		"entity_id", trig.EntityID,
		"state", vector.String(),
		"created", len(rep.Created),
		"completed", len(rep.Completed),
		"errors", len(errs),
		"forced", forced,
	)

	return rep, errors.Join(errs...)
}

// release drops the guard entry taken by a normal pass that did no work.
// Forced passes never took one.
func (r *Reconciler) release(entityID string, forced bool) {
	if !forced {
		r.guard.Forget(entityID)
	}
}

func (r *Reconciler) ruleFailed(entityID, ruleID string, op RuleOp, taskID string, err error) error {
	r.metrics.RuleError(ruleID, string(op))
	slog.Error("rule mutation failed",
		"entity_id", entityID,
		"rule_id", ruleID,
		"op", op,
		"task_id", taskID,
		"error", err,
	)
	return &RuleError{RuleID: ruleID, EntityID: entityID, Op: op, TaskID: taskID, Err: err}
}

// load returns the entity snapshot and its automatic tasks.
//
// Sub-records present on the trigger take precedence over fetched ones.
// When the tenant is known up front the two reads run in parallel.
func (r *Reconciler) load(ctx context.Context, trig ir.Trigger, forced bool) (ir.Snapshot, []ir.DerivedTask, error) {
	var snap ir.Snapshot

	fetchState := func(ctx context.Context) error {
		if !forced && trig.Booking != nil && trig.Form != nil && trig.Contract != nil {
			snap = ir.Snapshot{Booking: trig.Booking, Form: trig.Form, Contract: trig.Contract}
			return nil
		}
		fetched, err := r.provider.Fetch(ctx, trig.EntityID)
		if err != nil {
			return err
		}
		if fetched.Booking == nil {
			return fmt.Errorf("booking %s: %w", trig.EntityID, store.ErrEntityNotFound)
		}
		if !forced {
			if trig.Booking != nil {
				fetched.Booking = trig.Booking
			}
			if trig.Form != nil {
				fetched.Form = trig.Form
			}
			if trig.Contract != nil {
				fetched.Contract = trig.Contract
			}
		}
		snap = fetched
		return nil
	}

	tenant := trig.TenantID
	if tenant == "" && trig.Booking != nil && !forced {
		tenant = trig.Booking.TenantID
	}

	var existing []ir.DerivedTask
	fetchTasks := func(ctx context.Context, tenant string) error {
		tasks, err := r.tasks.FindAutomaticTasks(ctx, trig.EntityID, tenant)
		if err != nil {
			return fmt.Errorf("find tasks: %w", err)
		}
		existing = tasks
		return nil
	}

	if tenant == "" {
		if err := fetchState(ctx); err != nil {
			return ir.Snapshot{}, nil, err
		}
		if err := fetchTasks(ctx, snap.Booking.TenantID); err != nil {
			return ir.Snapshot{}, nil, err
		}
		return snap, existing, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fetchState(gctx) })
	g.Go(func() error { return fetchTasks(gctx, tenant) })
	if err := g.Wait(); err != nil {
		return ir.Snapshot{}, nil, err
	}
	return snap, existing, nil
}

// newTask builds the task for rule. The id is assigned here so that a
// store which echoes ids back returns the same one.
func (r *Reconciler) newTask(cat *catalog.Catalog, rule ir.RuleDefinition, snap ir.Snapshot, vector ir.StateVector, tenant string, calc *duedate.Calculator, now time.Time) ir.DerivedTask {
	meta := map[string]string{
		"catalog":          shortDigest(cat.Digest()),
		"engine_version":   ir.EngineVersion,
		"rule_description": rule.Description,
		"state":            vector.String(),
		"urgency":          string(rule.Urgency),
	}
	if snap.Booking.Date != nil {
		meta["booking_date"] = snap.Booking.Date.UTC().Format(time.DateOnly)
	}

	return ir.DerivedTask{
		ID:          r.ids.Generate(),
		RuleID:      rule.ID,
		EntityID:    snap.Booking.ID,
		EntityType:  ir.EntityTypeBooking,
		TenantID:    tenant,
		DisplayName: rule.DisplayName,
		Description: rule.Description,
		Priority:    rule.Priority,
		Automatic:   true,
		DueDate:     calc.Due(now, snap.Booking, rule.Urgency),
		CreatedAt:   now,
		Metadata:    meta,
	}
}

// shortDigest abbreviates a catalog digest the way git abbreviates hashes.
func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// sameIDs reports whether a and b hold the same ids in any order.
func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// link writes the open task ids back to the booking. After a create
// conflict the in-memory view lacks the winner's id, so the list is
// re-read. Forced passes only write when the back-link has drifted.
// linked reports whether a write happened.
func (r *Reconciler) link(ctx context.Context, entityID, tenant string, current, open []string, reread, forced bool) (linked bool, err error) {
	if reread {
		tasks, err := r.tasks.FindAutomaticTasks(ctx, entityID, tenant)
		if err != nil {
			return false, fmt.Errorf("link tasks: %w", err)
		}
		open = open[:0]
		for _, t := range tasks {
			if t.Open() {
				open = append(open, t.ID)
			}
		}
	}

	if forced && sameIDs(current, open) {
		return false, nil
	}

	if err := r.linker.LinkTasks(ctx, entityID, open); err != nil {
		slog.Error("link tasks failed", "entity_id", entityID, "error", err)
		return false, fmt.Errorf("link tasks: %w", err)
	}
	return true, nil
}
