package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrEntityNotFound is returned when a booking does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrTaskNotFound is returned when a task id matches no automatic task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateActiveTask is returned by Create when an open automatic
	// task already exists for the same (entity, rule).
	ErrDuplicateActiveTask = errors.New("open automatic task already exists")
)

const (
	// pgUniqueViolation is the Postgres SQLSTATE for unique_violation.
	pgUniqueViolation = "23505"

	openTaskIndex = "idx_tasks_open_automatic"
)

// isOpenTaskConflict reports whether err is a violation of the partial
// unique index on open automatic tasks. Primary key collisions on the task
// id are not matched.
func isOpenTaskConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		// SQLite names the columns, not the index:
		// "UNIQUE constraint failed: tasks.entity_id, tasks.rule_id"
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(sqliteErr.Error(), "tasks.entity_id")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == openTaskIndex
	}
	return false
}
