package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DeleteAutomaticTasks removes every automatic task of an entity, completed
// ones included. It is the cleanup entry point for booking deletion and
// runs regardless of the configuration switches.
//
// When the bulk delete fails and the store can delete single tasks, each
// task is deleted individually; per-task failures are logged and joined
// into the returned error. Callers proceed with deleting the parent either
// way.
func (r *Reconciler) DeleteAutomaticTasks(ctx context.Context, entityID, tenantID string) error {
	unlock := r.locks.lock(entityID)
	defer unlock()

	r.guard.Forget(entityID)

	n, err := r.tasks.DeleteAllForEntity(ctx, entityID, tenantID)
	if err == nil {
		slog.Info("automatic tasks deleted",
			"entity_id", entityID,
			"tenant_id", tenantID,
			"count", n,
		)
		return nil
	}

	slog.Warn("bulk task delete failed",
		"entity_id", entityID,
		"tenant_id", tenantID,
		"error", err,
	)

	deleter, ok := r.tasks.(TaskDeleter)
	if !ok {
		return fmt.Errorf("delete tasks for %s: %w", entityID, err)
	}

	tasks, ferr := r.tasks.FindAutomaticTasks(ctx, entityID, tenantID)
	if ferr != nil {
		return fmt.Errorf("delete tasks for %s: %w", entityID, errors.Join(err, ferr))
	}

	var errs []error
	for _, t := range tasks {
		if derr := deleter.DeleteTask(ctx, t.ID); derr != nil {
			slog.Error("task delete failed",
				"entity_id", entityID,
				"task_id", t.ID,
				"rule_id", t.RuleID,
				"error", derr,
			)
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, derr))
		}
	}
	return errors.Join(errs...)
}
