package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentledger/internal/models"
)

// HoldPayment inserts the payment row and moves the booking from Pending to
// Payment_Held atomically. The fee is frozen here and never recomputed.
func (db *DB) HoldPayment(ctx context.Context, bookingID, fromVersion int64, payment *models.Payment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `INSERT INTO payments (booking_id, method, account, amount_cents, service_fee_cents, status, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		bookingID,
		payment.Method,
		payment.Account,
		payment.AmountCents,
		payment.ServiceFeeCents,
		models.PaymentHeld,
		now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := updateStatusTx(ctx, tx, bookingID, fromVersion, models.StatusPaymentHeld, now); err != nil {
		return err
	}
	if err := insertStatusEventTx(ctx, tx, bookingID, models.StatusPending, models.StatusPaymentHeld, models.RoleRenter, 0, now); err != nil {
		return err
	}

	payment.BookingID = bookingID
	payment.Status = models.PaymentHeld
	payment.CreatedAt = now

	return tx.Commit()
}

func (db *DB) GetPayment(ctx context.Context, bookingID int64) (*models.Payment, error) {
	query := `SELECT booking_id, method, account, amount_cents, service_fee_cents, status, created_at, released_at
              FROM payments WHERE booking_id = ?`
	var p models.Payment
	err := db.QueryRowContext(ctx, query, bookingID).Scan(
		&p.BookingID, &p.Method, &p.Account, &p.AmountCents, &p.ServiceFeeCents,
		&p.Status, &p.CreatedAt, &p.ReleasedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// settlePaymentTx moves a HELD payment to its terminal state. The status
// guard in the WHERE clause makes settlement idempotent-safe: a payment can
// leave HELD exactly once.
func settlePaymentTx(ctx context.Context, tx *sql.Tx, bookingID int64, toStatus string, now time.Time) error {
	query := `UPDATE payments SET status = ?, released_at = ? WHERE booking_id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, query, toStatus, now, bookingID, models.PaymentHeld)
	if err != nil {
		return fmt.Errorf("failed to settle payment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}
