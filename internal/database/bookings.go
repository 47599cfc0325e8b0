package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rentledger/internal/models"
)

const bookingColumns = `id, item_id, item_name, renter_id, owner_id, requirements_data,
                 contract_accepted, payment_amount_cents, status, rejection_reason, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	b := &models.Booking{}
	var requirementsJSON string
	err := row.Scan(
		&b.ID, &b.RentalItemID, &b.ItemName, &b.RenterID, &b.OwnerID, &requirementsJSON,
		&b.ContractAccepted, &b.PaymentAmountCents, &b.Status, &b.RejectionReason,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(requirementsJSON), &b.RequirementsData); err != nil {
		return nil, fmt.Errorf("failed to decode requirements for booking %d: %w", b.ID, err)
	}
	return b, nil
}

// CreateBooking inserts the booking and its initial status event in one
// transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	requirementsJSON, err := json.Marshal(booking.RequirementsData)
	if err != nil {
		return fmt.Errorf("failed to encode requirements: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `INSERT INTO bookings (
				item_id, item_name, renter_id, owner_id, requirements_data,
				contract_accepted, payment_amount_cents, status, rejection_reason, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, query,
		booking.RentalItemID,
		booking.ItemName,
		booking.RenterID,
		booking.OwnerID,
		string(requirementsJSON),
		booking.ContractAccepted,
		booking.PaymentAmountCents,
		booking.Status,
		booking.RejectionReason,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := insertStatusEventTx(ctx, tx, id, "", booking.Status, models.RoleRenter, booking.RenterID, now); err != nil {
		return err
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// GetUserBookings returns bookings where the user is either side of the deal,
// newest first.
func (db *DB) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE renter_id = ? OR owner_id = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetOwnerBookingsByStatus returns the owner's incoming requests filtered to
// one status, oldest first so the queue drains in order.
func (db *DB) GetOwnerBookingsByStatus(ctx context.Context, ownerID int64, status string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE owner_id = ? AND status = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get owner bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// GetStaleHeldBookings returns Payment_Held bookings untouched since the
// cutoff. Used by the expiry sweep.
func (db *DB) GetStaleHeldBookings(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND updated_at <= ? ORDER BY updated_at ASC`
	rows, err := db.QueryContext(ctx, query, models.StatusPaymentHeld, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale held bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (db *DB) GetStatusEvents(ctx context.Context, bookingID int64) ([]models.BookingStatusEvent, error) {
	query := `SELECT id, booking_id, from_status, to_status, actor, actor_id, created_at
              FROM booking_status_events WHERE booking_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status events: %w", err)
	}
	defer rows.Close()

	var events []models.BookingStatusEvent
	for rows.Next() {
		var e models.BookingStatusEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.From, &e.To, &e.Actor, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetBookingSnapshots returns the flattened booking+payment view for exports
// and the ledger mirror.
func (db *DB) GetBookingSnapshots(ctx context.Context) ([]models.BookingSnapshot, error) {
	query := `SELECT b.id, b.item_name, b.renter_id, b.owner_id, b.status,
                     COALESCE(p.status, ''), COALESCE(p.amount_cents, 0),
                     COALESCE(p.service_fee_cents, 0), b.updated_at
              FROM bookings b LEFT JOIN payments p ON p.booking_id = b.id
              ORDER BY b.id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.BookingSnapshot
	for rows.Next() {
		var s models.BookingSnapshot
		err := rows.Scan(&s.BookingID, &s.ItemName, &s.RenterID, &s.OwnerID, &s.Status,
			&s.PaymentStatus, &s.AmountCents, &s.ServiceFeeCents, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// updateStatusTx performs the optimistic-locking status update inside tx.
// RowsAffected == 0 means another writer won the race.
func updateStatusTx(ctx context.Context, tx *sql.Tx, id, fromVersion int64, status string, now time.Time) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query, status, now, id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func insertStatusEventTx(ctx context.Context, tx *sql.Tx, bookingID int64, from, to, actor string, actorID int64, now time.Time) error {
	query := `INSERT INTO booking_status_events (booking_id, from_status, to_status, actor, actor_id, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, bookingID, from, to, actor, actorID, now); err != nil {
		return fmt.Errorf("failed to insert status event: %w", err)
	}
	return nil
}

// CancelBooking moves a booking to Cancelled and settles its payment through
// the refund path, if one was held.
func (db *DB) CancelBooking(ctx context.Context, id, fromVersion int64, fromStatus string, actorID int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if err := updateStatusTx(ctx, tx, id, fromVersion, models.StatusCancelled, now); err != nil {
		return err
	}
	// Pending bookings have no payment row yet.
	if fromStatus == models.StatusPaymentHeld {
		if err := settlePaymentTx(ctx, tx, id, models.PaymentForfeited, now); err != nil {
			return err
		}
	}
	if err := insertStatusEventTx(ctx, tx, id, fromStatus, models.StatusCancelled, "system", actorID, now); err != nil {
		return err
	}

	return tx.Commit()
}

// OverrideBookingStatus is the admin escape hatch. It skips transition guards
// but always writes an audit row.
func (db *DB) OverrideBookingStatus(ctx context.Context, id, fromVersion int64, fromStatus, toStatus string, adminID int64, reason string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if err := updateStatusTx(ctx, tx, id, fromVersion, toStatus, now); err != nil {
		return err
	}
	if err := insertStatusEventTx(ctx, tx, id, fromStatus, toStatus, models.RoleAdmin, adminID, now); err != nil {
		return err
	}
	if err := insertAuditTx(ctx, tx, id, adminID, fromStatus, toStatus, reason, now); err != nil {
		return err
	}

	return tx.Commit()
}
