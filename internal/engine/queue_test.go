package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
)

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeBooking})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "b-1", got.EntityID)
	assert.Equal(t, store.ChangeBooking, got.Kind)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(store.ChangeEvent{EntityID: id})
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.EntityID)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(store.ChangeEvent{EntityID: "b-1"})
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(store.ChangeEvent{EntityID: "b-2"}), "enqueue after close fails")

	// Already queued events survive close
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b-1", e.EntityID)

	_, open := <-q.Wait()
	assert.False(t, open, "signal channel closed")
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(store.ChangeEvent{EntityID: fmt.Sprintf("b-%d-%d", i, j)})
				q.Enqueue(store.ChangeEvent{EntityID: "shared"})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1001, q.Len(), "one event per booking")
	assert.Equal(t, 999, q.Merged())
}

func TestEventQueue_MergesWritesForSameBooking(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeBooking, Origin: ir.OriginUser})
	q.Enqueue(store.ChangeEvent{EntityID: "b-2", Kind: store.ChangeBooking, Origin: ir.OriginUser})
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeForm, Origin: ir.OriginUser})
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeTaskLinks, Origin: ir.OriginSystem})
	require.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Merged())

	first, _ := q.TryDequeue()
	assert.Equal(t, "b-1", first.EntityID)
	assert.Equal(t, ir.OriginUser, first.Origin, "a system echo never downgrades a user write")
	second, _ := q.TryDequeue()
	assert.Equal(t, "b-2", second.EntityID)

	// Once dequeued, the next write queues again
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeContract, Origin: ir.OriginUser})
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_SystemEchoUpgradedByUserWrite(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeTaskLinks, Origin: ir.OriginSystem})
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeForm, Origin: ir.OriginUser})

	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, ir.OriginUser, e.Origin)
	assert.Equal(t, store.ChangeForm, e.Kind)
}

func TestEventQueue_DeletionKeepsOrder(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeBooking, Origin: ir.OriginUser})
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeDeleted, Origin: ir.OriginUser})
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeBooking, Origin: ir.OriginUser})
	q.Enqueue(store.ChangeEvent{EntityID: "b-1", Kind: store.ChangeForm, Origin: ir.OriginUser})

	var kinds []store.ChangeKind
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []store.ChangeKind{store.ChangeBooking, store.ChangeDeleted, store.ChangeForm}, kinds)
}
