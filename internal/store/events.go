package store

import "github.com/roach88/relance/internal/ir"

// ChangeKind names what a ChangeEvent touched.
type ChangeKind string

const (
	ChangeBooking   ChangeKind = "booking"
	ChangeForm      ChangeKind = "form"
	ChangeContract  ChangeKind = "contract"
	ChangeTaskLinks ChangeKind = "task_links"
	ChangeDeleted   ChangeKind = "deleted"
)

// ChangeEvent is emitted after a committed write to a booking or one of its
// sub-records.
type ChangeEvent struct {
	EntityID string
	TenantID string
	Kind     ChangeKind
	Origin   ir.Origin
}

// Subscribe registers fn to receive every ChangeEvent and returns a function
// that removes it.
//
// fn runs synchronously on the writing goroutine after the commit, so it
// must not block or write back to the store.
func (s *Store) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) emit(ev ChangeEvent) {
	s.mu.Lock()
	subs := make([]func(ChangeEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
