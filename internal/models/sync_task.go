package models

import "time"

// SyncTask represents a queued ledger-mirror job for Sheets.
type SyncTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// BookingSnapshot is the flattened booking+payment row mirrored to the ops
// spreadsheet and the xlsx export.
type BookingSnapshot struct {
	BookingID       int64     `json:"booking_id"`
	ItemName        string    `json:"item_name"`
	RenterID        int64     `json:"renter_id"`
	OwnerID         int64     `json:"owner_id"`
	Status          string    `json:"status"`
	PaymentStatus   string    `json:"payment_status,omitempty"`
	AmountCents     int64     `json:"amount_cents,omitempty"`
	ServiceFeeCents int64     `json:"service_fee_cents,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}
