package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentledger/internal/models"
)

// AcceptBooking moves Payment_Held to Owner_Accepted and creates the delivery
// confirmation row with a fresh code.
func (db *DB) AcceptBooking(ctx context.Context, id, fromVersion int64, ownerID int64, code string, codeTTL time.Duration) (*models.DeliveryConfirmation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if err := updateStatusTx(ctx, tx, id, fromVersion, models.StatusOwnerAccepted, now); err != nil {
		return nil, err
	}

	expiry := now.Add(codeTTL)
	query := `INSERT INTO delivery_confirmations (booking_id, confirmation_code, code_expiry, accepted_at, renter_confirmed, owner_confirmed)
              VALUES (?, ?, ?, ?, 0, 0)`
	if _, err := tx.ExecContext(ctx, query, id, code, expiry, now); err != nil {
		return nil, fmt.Errorf("failed to create delivery confirmation: %w", err)
	}

	if err := insertStatusEventTx(ctx, tx, id, models.StatusPaymentHeld, models.StatusOwnerAccepted, models.RoleOwner, ownerID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.DeliveryConfirmation{
		BookingID:        id,
		ConfirmationCode: code,
		CodeExpiry:       expiry,
		AcceptedAt:       now,
	}, nil
}

// RejectBooking moves Payment_Held to Owner_Rejected and forfeits the hold.
// The renter gets the amount back minus the frozen fee; that split is the
// payment processor's job, here we only flip the escrow state.
func (db *DB) RejectBooking(ctx context.Context, id, fromVersion int64, ownerID int64, reason string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if err := updateStatusTx(ctx, tx, id, fromVersion, models.StatusOwnerRejected, now); err != nil {
		return err
	}

	query := `UPDATE bookings SET rejection_reason = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("failed to store rejection reason: %w", err)
	}

	if err := settlePaymentTx(ctx, tx, id, models.PaymentForfeited, now); err != nil {
		return err
	}
	if err := insertStatusEventTx(ctx, tx, id, models.StatusPaymentHeld, models.StatusOwnerRejected, models.RoleOwner, ownerID, now); err != nil {
		return err
	}

	return tx.Commit()
}

// RefreshDeliveryCode replaces the confirmation code and pushes its expiry
// forward. The renter_confirmed guard keeps a consumed code from being
// reissued.
func (db *DB) RefreshDeliveryCode(ctx context.Context, bookingID int64, code string, expiry time.Time) error {
	query := `UPDATE delivery_confirmations SET confirmation_code = ?, code_expiry = ?
              WHERE booking_id = ? AND renter_confirmed = 0`
	result, err := db.ExecContext(ctx, query, code, expiry, bookingID)
	if err != nil {
		return fmt.Errorf("failed to refresh delivery code: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetDeliveryConfirmation(ctx context.Context, bookingID int64) (*models.DeliveryConfirmation, error) {
	query := `SELECT booking_id, confirmation_code, code_expiry, accepted_at,
                     renter_confirmed, owner_confirmed, renter_confirmed_at, owner_confirmed_at
              FROM delivery_confirmations WHERE booking_id = ?`
	var d models.DeliveryConfirmation
	err := db.QueryRowContext(ctx, query, bookingID).Scan(
		&d.BookingID, &d.ConfirmationCode, &d.CodeExpiry, &d.AcceptedAt,
		&d.RenterConfirmed, &d.OwnerConfirmed, &d.RenterConfirmedAt, &d.OwnerConfirmedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery confirmation: %w", err)
	}
	return &d, nil
}

// ConfirmDeliverySide records one party's confirmation.
//
// Three outcomes, all in one transaction:
//   - renter confirms first: only the flag changes, booking stays put
//   - owner confirms alone (grace window): booking moves to Delivered,
//     payment stays held until the renter's code lands
//   - second confirmation of either side (Complete): booking finishes at
//     Completed and the payment is released
type ConfirmDeliveryParams struct {
	BookingID   int64
	FromVersion int64
	FromStatus  string
	Role        string // renter or owner
	ActorID     int64
	Complete    bool
}

func (db *DB) ConfirmDeliverySide(ctx context.Context, p ConfirmDeliveryParams) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()

	var query string
	switch p.Role {
	case models.RoleRenter:
		query = `UPDATE delivery_confirmations SET renter_confirmed = 1, renter_confirmed_at = ?
                 WHERE booking_id = ? AND renter_confirmed = 0`
	case models.RoleOwner:
		query = `UPDATE delivery_confirmations SET owner_confirmed = 1, owner_confirmed_at = ?
                 WHERE booking_id = ? AND owner_confirmed = 0`
	default:
		return fmt.Errorf("unknown confirmation side %q", p.Role)
	}

	result, err := tx.ExecContext(ctx, query, now, p.BookingID)
	if err != nil {
		return fmt.Errorf("failed to record confirmation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	switch {
	case p.Complete:
		if err := updateStatusTx(ctx, tx, p.BookingID, p.FromVersion, models.StatusCompleted, now); err != nil {
			return err
		}
		if err := settlePaymentTx(ctx, tx, p.BookingID, models.PaymentReleased, now); err != nil {
			return err
		}
		if p.FromStatus == models.StatusOwnerAccepted {
			if err := insertStatusEventTx(ctx, tx, p.BookingID, models.StatusOwnerAccepted, models.StatusDelivered, p.Role, p.ActorID, now); err != nil {
				return err
			}
		}
		if err := insertStatusEventTx(ctx, tx, p.BookingID, models.StatusDelivered, models.StatusCompleted, "system", 0, now); err != nil {
			return err
		}
	case p.Role == models.RoleOwner:
		// Grace-window confirmation without the renter: the item is out the
		// door but the escrow stays closed.
		if err := updateStatusTx(ctx, tx, p.BookingID, p.FromVersion, models.StatusDelivered, now); err != nil {
			return err
		}
		if err := insertStatusEventTx(ctx, tx, p.BookingID, models.StatusOwnerAccepted, models.StatusDelivered, p.Role, p.ActorID, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}
