package models

import "time"

type Booking struct {
	ID               int64          `json:"id"`
	RentalItemID     int64          `json:"rental_item_id"`
	ItemName         string         `json:"item_name"`
	RenterID         int64          `json:"renter_id"`
	OwnerID          int64          `json:"owner_id"`
	RequirementsData map[string]any `json:"requirements_data,omitempty"`
	ContractAccepted bool           `json:"contract_accepted"`
	// PaymentAmountCents is fixed when the booking is created, from the
	// submitted requirements. Payment submission reads it from here; the
	// client never names the escrowed figure again.
	PaymentAmountCents int64  `json:"payment_amount_cents"`
	Status             string `json:"status"` // Pending, Payment_Held, Owner_Accepted, Owner_Rejected, Delivered, Completed, Cancelled
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Version          int64          `json:"version"`
}

// IsTerminal reports whether no further transitions are allowed.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusCompleted, StatusOwnerRejected, StatusCancelled:
		return true
	}
	return false
}

// BookingStatusEvent is an append-only record of a status change.
type BookingStatusEvent struct {
	ID        int64     `json:"id"`
	BookingID int64     `json:"booking_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Actor     string    `json:"actor"`
	ActorID   int64     `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}
