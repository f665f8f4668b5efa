// Package store provides SQL-backed storage for bookings and their derived
// follow-up tasks.
//
// The same schema runs on SQLite (github.com/mattn/go-sqlite3, the default)
// and Postgres (github.com/jackc/pgx/v5 through database/sql). Queries are
// written with "?" placeholders and rebound for Postgres.
//
// # Tables
//
//   - bookings: the parent records, including the back-linked task ids
//   - forms, contracts: at most one of each per booking, removed with it
//   - tasks: automatic and manual tasks, distinguished by the automatic flag
//
// # At Most One Open Automatic Task
//
// A partial unique index on tasks(entity_id, rule_id) WHERE automatic AND
// NOT completed backs the engine's own bookkeeping. A second concurrent
// insert fails with ErrDuplicateActiveTask instead of producing a duplicate.
//
// # Timestamps
//
// Instants are stored as fixed-width UTC text so that lexical order equals
// chronological order on both databases. Booking dates are stored as
// YYYY-MM-DD calendar days.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascade form/contract deletion
package store
