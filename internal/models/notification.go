package models

import "time"

// Notification is an in-app message row. The frontend polls these every 30s;
// reads are idempotent.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditRecord logs an admin status override, which bypasses the state
// machine and therefore must leave a trail.
type AuditRecord struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"booking_id"`
	ActorID    int64     `json:"actor_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
