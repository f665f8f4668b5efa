package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
)

// Dispatcher turns store change events into reconciliation passes.
//
// Handle may be called from any goroutine and never blocks. Run drains the
// queue on a single worker goroutine.
//
// A user write that lands inside the booking's debounce window is not
// lost: the Dispatcher re-queues it once the window has passed, so the
// last write of a burst is always reconciled.
//
// ERROR HANDLING: A failed pass is logged with the event context and the
// worker moves on. Reconciliation failures never propagate back to the
// write that caused them.
type Dispatcher struct {
	rec   *Reconciler
	queue *eventQueue

	mu       sync.Mutex
	trailing map[string]*time.Timer
	stopped  bool
}

// NewDispatcher creates a Dispatcher feeding rec.
func NewDispatcher(rec *Reconciler) *Dispatcher {
	return &Dispatcher{
		rec:      rec,
		queue:    newEventQueue(),
		trailing: make(map[string]*time.Timer),
	}
}

// Handle enqueues ev. Suitable as a store.Subscribe callback.
// Events arriving after Stop are dropped.
func (d *Dispatcher) Handle(ev store.ChangeEvent) {
	if !d.queue.Enqueue(ev) {
		slog.Debug("dispatcher stopped, event dropped",
			"entity_id", ev.EntityID,
			"kind", ev.Kind,
		)
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run processes events until ctx is cancelled or Stop is called.
// Must be called from exactly one goroutine.
//
// After Stop, events already queued are still processed before Run
// returns nil. On context cancellation Run returns ctx.Err() immediately.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher starting")

	for {
		if ev, ok := d.queue.TryDequeue(); ok {
			d.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			d.cancelTrailing()
			d.queue.Close()
			return ctx.Err()

		case _, open := <-d.queue.Wait():
			if !open && d.queue.Len() == 0 {
				slog.Info("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is drained. Deferred
// re-runs that have not fired yet are dropped.
func (d *Dispatcher) Stop() {
	d.cancelTrailing()
	d.queue.Close()
}

// Deferred returns the number of bookings waiting for a trailing pass.
func (d *Dispatcher) Deferred() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.trailing)
}

// deferTrailing re-queues ev when the booking's cooldown window ends.
// At most one re-run is pending per booking.
func (d *Dispatcher) deferTrailing(ev store.ChangeEvent) {
	wait := d.rec.guard.Remaining(ev.EntityID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, ok := d.trailing[ev.EntityID]; ok {
		return
	}
	d.trailing[ev.EntityID] = time.AfterFunc(wait, func() {
		d.mu.Lock()
		delete(d.trailing, ev.EntityID)
		d.mu.Unlock()
		d.Handle(ev)
	})
	slog.Debug("pass deferred to end of cooldown",
		"entity_id", ev.EntityID,
		"wait", wait,
	)
}

func (d *Dispatcher) cancelTrailing() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for id, timer := range d.trailing {
		timer.Stop()
		delete(d.trailing, id)
	}
}

func (d *Dispatcher) process(ctx context.Context, ev store.ChangeEvent) {
	if ev.Kind == store.ChangeDeleted {
		if err := d.rec.DeleteAutomaticTasks(ctx, ev.EntityID, ev.TenantID); err != nil {
			slog.Error("cleanup failed",
				"entity_id", ev.EntityID,
				"tenant_id", ev.TenantID,
				"error", err,
			)
		}
		return
	}

	rep, err := d.rec.Reconcile(ctx, ir.Trigger{
		EntityID: ev.EntityID,
		TenantID: ev.TenantID,
		Origin:   ev.Origin,
	})
	if err != nil {
		slog.Error("reconcile failed",
			"entity_id", ev.EntityID,
			"tenant_id", ev.TenantID,
			"kind", ev.Kind,
			"origin", ev.Origin,
			"error", err,
		)
		return
	}
	if rep.Skipped == SkipDebounced {
		d.deferTrailing(ev)
		return
	}
	if rep.Ran() {
		slog.Debug("dispatched pass",
			"entity_id", ev.EntityID,
			"kind", ev.Kind,
			"created", len(rep.Created),
			"completed", len(rep.Completed),
		)
	}
}
