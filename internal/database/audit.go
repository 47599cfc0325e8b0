package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rentledger/internal/models"
)

func insertAuditTx(ctx context.Context, tx *sql.Tx, bookingID, actorID int64, from, to, reason string, now time.Time) error {
	query := `INSERT INTO audit_log (booking_id, actor_id, from_status, to_status, reason, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, bookingID, actorID, from, to, reason, now); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func (db *DB) GetAuditRecords(ctx context.Context, bookingID int64) ([]models.AuditRecord, error) {
	query := `SELECT id, booking_id, actor_id, from_status, to_status, reason, created_at
              FROM audit_log WHERE booking_id = ? ORDER BY id ASC`
	return db.queryAuditRecords(ctx, query, bookingID)
}

func (db *DB) GetAllAuditRecords(ctx context.Context) ([]models.AuditRecord, error) {
	query := `SELECT id, booking_id, actor_id, from_status, to_status, reason, created_at
              FROM audit_log ORDER BY id ASC`
	return db.queryAuditRecords(ctx, query)
}

func (db *DB) queryAuditRecords(ctx context.Context, query string, args ...any) ([]models.AuditRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit records: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.ID, &r.BookingID, &r.ActorID, &r.FromStatus, &r.ToStatus, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
