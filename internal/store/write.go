package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/relance/internal/ir"
)

// PutBooking inserts or updates a booking.
//
// The back-linked task ids are owned by the engine: an update never
// overwrites them, and a new booking starts with none. A zero CreatedAt is
// stamped from the store clock.
func (s *Store) PutBooking(ctx context.Context, b ir.Booking, origin ir.Origin) error {
	if b.ID == "" || b.TenantID == "" {
		return fmt.Errorf("put booking: id and tenant_id are required")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.clock.Now()
	}

	if err := s.upsertBooking(ctx, s.db, b); err != nil {
		return fmt.Errorf("put booking: %w", err)
	}

	s.emit(ChangeEvent{EntityID: b.ID, TenantID: b.TenantID, Kind: ChangeBooking, Origin: origin})
	return nil
}

// PutDocument writes a booking together with its form and contract in one
// transaction and emits a single ChangeBooking event. form and contract
// may be nil; their BookingID defaults to the booking's id.
//
// Subscribers never observe the booking without the sub-records written
// alongside it.
func (s *Store) PutDocument(ctx context.Context, b ir.Booking, form *ir.Form, contract *ir.Contract, origin ir.Origin) error {
	if b.ID == "" || b.TenantID == "" {
		return fmt.Errorf("put document: id and tenant_id are required")
	}
	now := s.clock.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put document: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := s.upsertBooking(ctx, tx, b); err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	if form != nil {
		f := *form
		if err := subRecordDefaults(&f.BookingID, &f.UpdatedAt, b.ID, now); err != nil {
			return fmt.Errorf("put document: form: %w", err)
		}
		if err := s.upsertSubRecord(ctx, tx, "forms", f.ID, f.BookingID, string(f.Status), f.UpdatedAt); err != nil {
			return fmt.Errorf("put document: form: %w", err)
		}
	}
	if contract != nil {
		c := *contract
		if err := subRecordDefaults(&c.BookingID, &c.UpdatedAt, b.ID, now); err != nil {
			return fmt.Errorf("put document: contract: %w", err)
		}
		if err := s.upsertSubRecord(ctx, tx, "contracts", c.ID, c.BookingID, string(c.Status), c.UpdatedAt); err != nil {
			return fmt.Errorf("put document: contract: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put document: commit: %w", err)
	}

	s.emit(ChangeEvent{EntityID: b.ID, TenantID: b.TenantID, Kind: ChangeBooking, Origin: origin})
	return nil
}

// subRecordDefaults fills an empty booking id and update time, and rejects
// a sub-record that names another booking.
func subRecordDefaults(bookingID *string, updatedAt *time.Time, owner string, now time.Time) error {
	switch *bookingID {
	case "":
		*bookingID = owner
	case owner:
	default:
		return fmt.Errorf("belongs to booking %s, not %s", *bookingID, owner)
	}
	if updatedAt.IsZero() {
		*updatedAt = now
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertBooking(ctx context.Context, ex execer, b ir.Booking) error {
	_, err := ex.ExecContext(ctx, s.q(`
		INSERT INTO bookings
		(id, tenant_id, title, booking_date, form_validated_legacy, invoice_sent, task_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '[]', ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			title = excluded.title,
			booking_date = excluded.booking_date,
			form_validated_legacy = excluded.form_validated_legacy,
			invoice_sent = excluded.invoice_sent
	`),
		b.ID,
		b.TenantID,
		b.Title,
		formatDate(b.Date),
		b.FormValidatedLegacy,
		b.InvoiceSent,
		formatTime(b.CreatedAt),
	)
	return err
}

// PutForm inserts or replaces the intake form of a booking.
// Returns ErrEntityNotFound if the booking does not exist.
func (s *Store) PutForm(ctx context.Context, f ir.Form, origin ir.Origin) error {
	if f.ID == "" || f.BookingID == "" {
		return fmt.Errorf("put form: id and booking_id are required")
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = s.clock.Now()
	}

	tenant, err := s.putSubRecord(ctx, "forms", f.ID, f.BookingID, string(f.Status), f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put form: %w", err)
	}

	s.emit(ChangeEvent{EntityID: f.BookingID, TenantID: tenant, Kind: ChangeForm, Origin: origin})
	return nil
}

// PutContract inserts or replaces the contract of a booking.
// Returns ErrEntityNotFound if the booking does not exist.
func (s *Store) PutContract(ctx context.Context, c ir.Contract, origin ir.Origin) error {
	if c.ID == "" || c.BookingID == "" {
		return fmt.Errorf("put contract: id and booking_id are required")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.clock.Now()
	}

	tenant, err := s.putSubRecord(ctx, "contracts", c.ID, c.BookingID, string(c.Status), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put contract: %w", err)
	}

	s.emit(ChangeEvent{EntityID: c.BookingID, TenantID: tenant, Kind: ChangeContract, Origin: origin})
	return nil
}

// putSubRecord upserts a form or contract row keyed by booking and returns
// the owning booking's tenant.
func (s *Store) putSubRecord(ctx context.Context, table, id, bookingID, status string, updatedAt time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	tenant, err := s.tenantOf(ctx, tx, bookingID)
	if err != nil {
		return "", err
	}

	if err := s.upsertSubRecord(ctx, tx, table, id, bookingID, status, updatedAt); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return tenant, nil
}

// upsertSubRecord writes one form or contract row. table is one of the two
// fixed table names.
func (s *Store) upsertSubRecord(ctx context.Context, ex execer, table, id, bookingID, status string, updatedAt time.Time) error {
	if id == "" {
		return fmt.Errorf("%s: id is required", table)
	}
	_, err := ex.ExecContext(ctx, s.q(`
		INSERT INTO `+table+` (id, booking_id, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (booking_id) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`), id, bookingID, status, formatTime(updatedAt))
	return err
}

// DeleteBooking removes a booking together with its form and contract.
// Tasks are not touched; callers remove automatic tasks first through the
// engine's cleanup entry point.
//
// Returns ErrEntityNotFound if the booking does not exist.
func (s *Store) DeleteBooking(ctx context.Context, id string, origin ir.Origin) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete booking: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	tenant, err := s.tenantOf(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}

	// Explicit deletes keep Postgres and SQLite-without-foreign-keys alike
	for _, stmt := range []string{
		`DELETE FROM forms WHERE booking_id = ?`,
		`DELETE FROM contracts WHERE booking_id = ?`,
		`DELETE FROM bookings WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
			return fmt.Errorf("delete booking: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete booking: commit: %w", err)
	}

	s.emit(ChangeEvent{EntityID: id, TenantID: tenant, Kind: ChangeDeleted, Origin: origin})
	return nil
}

// LinkTasks replaces the booking's back-linked task ids.
//
// The write is tagged OriginSystem: subscribers see it as the engine's own
// echo and must not reconcile in response.
func (s *Store) LinkTasks(ctx context.Context, entityID string, taskIDs []string) error {
	idsJSON, err := marshalTaskIDs(taskIDs)
	if err != nil {
		return fmt.Errorf("link tasks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("link tasks: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	tenant, err := s.tenantOf(ctx, tx, entityID)
	if err != nil {
		return fmt.Errorf("link tasks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE bookings SET task_ids = ? WHERE id = ?`), idsJSON, entityID); err != nil {
		return fmt.Errorf("link tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("link tasks: commit: %w", err)
	}

	s.emit(ChangeEvent{EntityID: entityID, TenantID: tenant, Kind: ChangeTaskLinks, Origin: ir.OriginSystem})
	return nil
}

// tenantOf returns the tenant of a booking inside tx.
func (s *Store) tenantOf(ctx context.Context, tx *sql.Tx, bookingID string) (string, error) {
	var tenant string
	err := tx.QueryRowContext(ctx, s.q(`SELECT tenant_id FROM bookings WHERE id = ?`), bookingID).Scan(&tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("booking %s: %w", bookingID, ErrEntityNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup booking %s: %w", bookingID, err)
	}
	return tenant, nil
}
