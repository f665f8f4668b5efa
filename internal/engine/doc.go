// Package engine implements the follow-up reconciliation loop.
//
// A Reconciler turns one trigger for a booking into at most one pass over
// the rule catalog. Each pass:
//
//  1. Rejects self-triggered events (origin=system), then consults the
//     master switch, the tenant switch and the debounce guard
//  2. Loads the booking state and the existing automatic tasks (in parallel)
//  3. Computes the state vector once
//  4. For every active rule, creates the missing task or completes the
//     obsolete one
//  5. Writes the open task ids back onto the booking, tagged as system
//
// Rules are independent: a failure on one rule is logged and recorded, and
// the remaining rules still run (best effort). The pass returns the joined
// per-rule errors.
//
// CONCURRENCY:
//
// Passes for the same entity are serialized by a per-entity lock, so a
// forced repair and a normal pass never interleave their read and write
// phases. Passes for different entities run concurrently. The store's
// partial unique index is the backstop when two processes race on the same
// entity: the loser's insert is treated as "already exists".
//
// The Dispatcher adapts store change events into passes through an
// unbounded FIFO queue drained by a single worker, so CRUD writes never
// wait on reconciliation.
package engine
