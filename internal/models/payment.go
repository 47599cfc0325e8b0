package models

import "time"

// Payment is the escrowed amount for a booking. Amounts are stored in cents;
// the service fee is frozen at submission time and never recomputed.
type Payment struct {
	BookingID       int64      `json:"booking_id"`
	Method          string     `json:"payment_method"`
	Account         string     `json:"payment_account"`
	AmountCents     int64      `json:"payment_amount_cents"`
	ServiceFeeCents int64      `json:"service_fee_cents"`
	Status          string     `json:"payment_status"` // HELD, RELEASED, FORFEITED
	CreatedAt       time.Time  `json:"created_at"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
}

// TotalCents is what the renter pays: amount plus the platform fee.
func (p *Payment) TotalCents() int64 {
	return p.AmountCents + p.ServiceFeeCents
}

// OwnerPayoutCents is what the owner receives on release.
func (p *Payment) OwnerPayoutCents() int64 {
	return p.AmountCents - p.ServiceFeeCents
}

// Dollars converts cents to the float the frontend renders.
func Dollars(cents int64) float64 {
	return float64(cents) / 100
}

// Cents converts a user-supplied amount to cents, truncating sub-cent noise.
func Cents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
