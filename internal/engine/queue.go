package engine

import (
	"sync"

	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
)

// eventQueue holds pending store change events, at most one per booking.
//
// A write for a booking that already has a queued event is merged into it
// instead of queued again: the pass re-reads state, so one pass covers
// every write that landed before it started. Deletions are never merged
// and keep their position relative to the writes around them.
//
// The queue is unbounded so that store writers never block on
// reconciliation. Enqueue runs on the writing goroutine (inside the
// store's subscriber callback); the Dispatcher's worker dequeues.
type eventQueue struct {
	mu      sync.Mutex
	events  []store.ChangeEvent
	head    int            // Absolute index of events[0]
	pending map[string]int // Booking id -> absolute index of its mergeable event
	merged  int
	closed  bool
	signal  chan struct{} // Buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events:  make([]store.ChangeEvent, 0, 64),
		pending: make(map[string]int),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds e, merging it into a queued event for the same booking when
// possible. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e store.ChangeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if e.Kind == store.ChangeDeleted {
		// Later writes must not jump ahead of the deletion
		delete(q.pending, e.EntityID)
	} else if abs, ok := q.pending[e.EntityID]; ok {
		q.events[abs-q.head] = mergeEvents(q.events[abs-q.head], e)
		q.merged++
		return true
	}

	q.events = append(q.events, e)
	if e.Kind != store.ChangeDeleted {
		q.pending[e.EntityID] = q.head + len(q.events) - 1
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// mergeEvents folds next into queued. A user origin wins over a system
// echo so the merged event still triggers a pass.
func mergeEvents(queued, next store.ChangeEvent) store.ChangeEvent {
	out := next
	if queued.Origin == ir.OriginUser {
		out.Origin = ir.OriginUser
	}
	return out
}

// TryDequeue pops the oldest event without blocking.
func (q *eventQueue) TryDequeue() (store.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return store.ChangeEvent{}, false
	}

	e := q.events[0]
	q.events[0] = store.ChangeEvent{}
	if abs, ok := q.pending[e.EntityID]; ok && abs == q.head {
		delete(q.pending, e.EntityID)
	}
	q.head++

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Merged returns how many events were folded into an already queued one.
func (q *eventQueue) Merged() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.merged
}

// Close stops accepting events and wakes the waiter. Queued events can
// still be dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
