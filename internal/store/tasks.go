package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/relance/internal/ir"
)

// FindAutomaticTasks returns the automatic tasks of an entity, open and
// completed, ordered by creation time then id. Manual tasks are excluded.
func (s *Store) FindAutomaticTasks(ctx context.Context, entityID, tenantID string) ([]ir.DerivedTask, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE entity_id = ? AND tenant_id = ? AND automatic
		ORDER BY created_at ASC, id ASC
	`, entityID, tenantID)
}

// Create inserts an automatic task and returns its id.
//
// Returns ErrDuplicateActiveTask if an open automatic task already exists
// for the same (entity, rule).
func (s *Store) Create(ctx context.Context, task ir.DerivedTask) (string, error) {
	task.Automatic = true
	if err := s.insertTask(ctx, task); err != nil {
		if isOpenTaskConflict(err) {
			return "", fmt.Errorf("create task %s/%s: %w", task.EntityID, task.RuleID, ErrDuplicateActiveTask)
		}
		return "", fmt.Errorf("create task: %w", err)
	}
	return task.ID, nil
}

// CreateManualTask inserts a user task. The engine never reads or mutates
// manual tasks.
func (s *Store) CreateManualTask(ctx context.Context, task ir.DerivedTask) (string, error) {
	task.Automatic = false
	task.CompletedAutomatically = false
	if err := s.insertTask(ctx, task); err != nil {
		return "", fmt.Errorf("create manual task: %w", err)
	}
	return task.ID, nil
}

func (s *Store) insertTask(ctx context.Context, task ir.DerivedTask) error {
	if task.ID == "" || task.EntityID == "" || task.TenantID == "" {
		return errors.New("id, entity_id and tenant_id are required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.clock.Now()
	}
	if task.EntityType == "" {
		task.EntityType = ir.EntityTypeBooking
	}

	metadata, err := marshalMetadata(task.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO tasks
		(id, rule_id, entity_id, entity_type, tenant_id, display_name, description,
		 priority, automatic, completed, completed_automatically, completion_reason,
		 due_date, created_at, completed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		task.ID,
		task.RuleID,
		task.EntityID,
		task.EntityType,
		task.TenantID,
		task.DisplayName,
		task.Description,
		string(task.Priority),
		task.Automatic,
		task.Completed,
		task.CompletedAutomatically,
		task.CompletionReason,
		formatTime(task.DueDate),
		formatTime(task.CreatedAt),
		formatNullTime(task.CompletedAt),
		metadata,
	)
	return err
}

// MarkCompleted completes an open automatic task with the given reason.
//
// Completing an already completed task is a no-op. Returns ErrTaskNotFound
// if no automatic task has that id; manual tasks are never matched.
func (s *Store) MarkCompleted(ctx context.Context, taskID, reason string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE tasks
		SET completed = TRUE, completed_automatically = TRUE, completion_reason = ?, completed_at = ?
		WHERE id = ? AND automatic AND NOT completed
	`), reason, formatTime(s.clock.Now()), taskID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM tasks WHERE id = ? AND automatic`), taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark completed %s: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// DeleteAllForEntity removes every automatic task of an entity, completed
// ones included, and returns how many rows were deleted.
func (s *Store) DeleteAllForEntity(ctx context.Context, entityID, tenantID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM tasks WHERE entity_id = ? AND tenant_id = ? AND automatic
	`), entityID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("delete tasks for %s: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete tasks for %s: %w", entityID, err)
	}
	return int(n), nil
}

// DeleteTask removes a single automatic task.
// Returns ErrTaskNotFound if no automatic task has that id.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM tasks WHERE id = ? AND automatic`), taskID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete task %s: %w", taskID, ErrTaskNotFound)
	}
	return nil
}
