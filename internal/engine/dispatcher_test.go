package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relance/internal/catalog"
	"github.com/roach88/relance/internal/clock"
	"github.com/roach88/relance/internal/debounce"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/metrics"
	"github.com/roach88/relance/internal/store"
)

// startDispatcher subscribes a dispatcher to the fixture store and runs it
// until the test ends.
func startDispatcher(t *testing.T, f *fixture) *Dispatcher {
	t.Helper()
	d := NewDispatcher(f.rec)
	unsubscribe := f.store.Subscribe(d.Handle)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	t.Cleanup(func() {
		unsubscribe()
		d.Stop()
		require.NoError(t, <-done)
	})
	return d
}

func TestDispatcher_ReconcilesOnWrite(t *testing.T) {
	f := newFixture(t, nil)
	d := startDispatcher(t, f)

	f.put(t, "b-1", "", "")
	assert.Eventually(t, func() bool {
		_, ok := f.openNoFail("b-1")[catalog.RuleSendForm]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// The back-link write is echoed as a system event and skipped
	assert.Eventually(t, func() bool {
		return d.Pending() == 0 && f.rm.pass(metrics.OutcomeSelfTriggered) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.store.PutForm(context.Background(), ir.Form{ID: "form-b-1", BookingID: "b-1", Status: ir.FormReceived}, ir.OriginUser))
	assert.Eventually(t, func() bool {
		open := f.openNoFail("b-1")
		_, validate := open[catalog.RuleValidateForm]
		_, send := open[catalog.RuleSendForm]
		return validate && !send
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_DeletedBookingCleansUp(t *testing.T) {
	f := newFixture(t, nil)
	f.put(t, "b-1", "", "")
	_, err := f.reconcile(t, "b-1")
	require.NoError(t, err)
	require.Len(t, f.all(t, "b-1"), 1)

	startDispatcher(t, f)
	require.NoError(t, f.store.DeleteBooking(context.Background(), "b-1", ir.OriginUser))

	assert.Eventually(t, func() bool {
		tasks, err := f.store.ListTasks(context.Background(), "b-1")
		return err == nil && len(tasks) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_FailedPassDoesNotStopWorker(t *testing.T) {
	var faulty *faultyTasks
	f := newFixture(t, func(s *store.Store) TaskStore {
		faulty = &faultyTasks{Store: s, failCreate: map[string]error{catalog.RuleSendForm: errors.New("insert failed")}}
		return faulty
	})
	d := NewDispatcher(f.rec)

	// Unknown entity, then a failing rule, then a healthy booking
	d.Handle(store.ChangeEvent{EntityID: "missing", TenantID: "t-1", Kind: store.ChangeBooking, Origin: ir.OriginUser})
	f.put(t, "b-1", "", "")
	d.Handle(store.ChangeEvent{EntityID: "b-1", TenantID: "t-1", Kind: store.ChangeBooking, Origin: ir.OriginUser})
	f.put(t, "b-2", ir.FormReceived, "")
	d.Handle(store.ChangeEvent{EntityID: "b-2", TenantID: "t-1", Kind: store.ChangeForm, Origin: ir.OriginUser})
	d.Stop()

	require.NoError(t, d.Run(context.Background()), "queued events drain after Stop")
	assert.Zero(t, d.Pending())
	assert.Empty(t, f.open(t, "b-1"))
	assert.Contains(t, f.open(t, "b-2"), catalog.RuleValidateForm)
	assert.Equal(t, 1, f.rm.pass(metrics.OutcomeFetchFailed))
}

func TestDispatcher_ContextCancel(t *testing.T) {
	f := newFixture(t, nil)
	d := NewDispatcher(f.rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Events after shutdown are dropped
	d.Handle(store.ChangeEvent{EntityID: "b-1"})
	assert.Zero(t, d.Pending())
}

func TestDispatcher_WriteInsideCooldownReconciledLater(t *testing.T) {
	f := newFixture(t, nil, WithGuard(debounce.New(clock.System{}, 300*time.Millisecond)))
	ctx := context.Background()

	// A first pass takes the cooldown slot
	f.put(t, "b-1", "", "")
	_, err := f.rec.Reconcile(ctx, ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
	require.NoError(t, err)
	require.Contains(t, f.open(t, "b-1"), catalog.RuleSendForm)

	startDispatcher(t, f)
	require.NoError(t, f.store.PutForm(ctx, ir.Form{ID: "form-b-1", BookingID: "b-1", Status: ir.FormValidated}, ir.OriginUser))

	assert.Eventually(t, func() bool {
		open := f.openNoFail("b-1")
		_, contract := open[catalog.RuleSendContract]
		return len(open) == 1 && contract
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, f.rm.pass(metrics.OutcomeDebounced), 1)
}

func TestDispatcher_SplitWritesSettle(t *testing.T) {
	f := newFixture(t, nil, WithGuard(debounce.New(clock.System{}, 20*time.Millisecond)))
	startDispatcher(t, f)
	ctx := context.Background()

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprintf("b-%d", i)
		require.NoError(t, f.store.PutBooking(ctx, ir.Booking{ID: ids[i], TenantID: "t-1"}, ir.OriginUser))
		require.NoError(t, f.store.PutForm(ctx, ir.Form{ID: "form-" + ids[i], BookingID: ids[i], Status: ir.FormValidated}, ir.OriginUser))
	}

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			open := f.openNoFail(id)
			if _, contract := open[catalog.RuleSendContract]; !contract || len(open) != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond, "every booking ends with only send-contract open")
}

func TestDispatcher_StopDropsDeferredPasses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.put(t, "b-1", "", "")
	_, err := f.rec.Reconcile(ctx, ir.Trigger{EntityID: "b-1", TenantID: "t-1", Origin: ir.OriginUser})
	require.NoError(t, err)

	d := NewDispatcher(f.rec)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The fake clock never leaves the window, so the pass stays deferred
	d.Handle(store.ChangeEvent{EntityID: "b-1", TenantID: "t-1", Kind: store.ChangeForm, Origin: ir.OriginUser})
	assert.Eventually(t, func() bool { return d.Deferred() == 1 }, 2*time.Second, 10*time.Millisecond)

	d.Stop()
	require.NoError(t, <-done)
	assert.Zero(t, d.Deferred())
}
