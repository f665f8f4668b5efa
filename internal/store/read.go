package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/relance/internal/ir"
)

// Fetch loads a booking with its optional form and contract.
// Returns ErrEntityNotFound if the booking does not exist.
func (s *Store) Fetch(ctx context.Context, entityID string) (ir.Snapshot, error) {
	b, err := s.GetBooking(ctx, entityID)
	if err != nil {
		return ir.Snapshot{}, err
	}

	form, err := s.getForm(ctx, entityID)
	if err != nil {
		return ir.Snapshot{}, err
	}

	contract, err := s.getContract(ctx, entityID)
	if err != nil {
		return ir.Snapshot{}, err
	}

	return ir.Snapshot{Booking: b, Form: form, Contract: contract}, nil
}

// GetBooking returns a single booking.
// Returns ErrEntityNotFound if it does not exist.
func (s *Store) GetBooking(ctx context.Context, id string) (*ir.Booking, error) {
	var (
		b         ir.Booking
		date      sql.NullString
		taskIDs   string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, tenant_id, title, booking_date, form_validated_legacy, invoice_sent, task_ids, created_at
		FROM bookings
		WHERE id = ?
	`), id).Scan(
		&b.ID,
		&b.TenantID,
		&b.Title,
		&date,
		&b.FormValidatedLegacy,
		&b.InvoiceSent,
		&taskIDs,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query booking: %w", err)
	}

	if b.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if b.TaskIDs, err = unmarshalTaskIDs(taskIDs); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) getForm(ctx context.Context, bookingID string) (*ir.Form, error) {
	var (
		f         ir.Form
		status    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, booking_id, status, updated_at FROM forms WHERE booking_id = ?
	`), bookingID).Scan(&f.ID, &f.BookingID, &status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query form: %w", err)
	}
	f.Status = ir.FormStatus(status)
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) getContract(ctx context.Context, bookingID string) (*ir.Contract, error) {
	var (
		c         ir.Contract
		status    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, booking_id, status, updated_at FROM contracts WHERE booking_id = ?
	`), bookingID).Scan(&c.ID, &c.BookingID, &status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query contract: %w", err)
	}
	c.Status = ir.ContractStatus(status)
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListTasks returns every task of an entity, automatic and manual, ordered
// by creation time then id.
//
// Returns an empty slice (not nil) if the entity has no tasks.
func (s *Store) ListTasks(ctx context.Context, entityID string) ([]ir.DerivedTask, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE entity_id = ?
		ORDER BY created_at ASC, id ASC
	`, entityID)
}

const taskColumns = `id, rule_id, entity_id, entity_type, tenant_id, display_name, description,
		priority, automatic, completed, completed_automatically, completion_reason,
		due_date, created_at, completed_at, metadata`

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]ir.DerivedTask, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []ir.DerivedTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// scanTask scans a row selected with taskColumns.
func scanTask(rows *sql.Rows) (ir.DerivedTask, error) {
	var (
		t           ir.DerivedTask
		priority    string
		dueDate     string
		createdAt   string
		completedAt sql.NullString
		metadata    string
	)
	if err := rows.Scan(
		&t.ID,
		&t.RuleID,
		&t.EntityID,
		&t.EntityType,
		&t.TenantID,
		&t.DisplayName,
		&t.Description,
		&priority,
		&t.Automatic,
		&t.Completed,
		&t.CompletedAutomatically,
		&t.CompletionReason,
		&dueDate,
		&createdAt,
		&completedAt,
		&metadata,
	); err != nil {
		return ir.DerivedTask{}, fmt.Errorf("scan task: %w", err)
	}

	t.Priority = ir.Priority(priority)

	var err error
	if t.DueDate, err = parseTime(dueDate); err != nil {
		return ir.DerivedTask{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return ir.DerivedTask{}, err
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return ir.DerivedTask{}, err
	}
	if t.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return ir.DerivedTask{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	return t, nil
}
