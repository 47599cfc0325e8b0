package models

import "time"

// DeliveryConfirmation tracks the dual handshake that releases an escrowed
// payment. Created when the owner accepts a booking, mutated by exactly two
// parties, never deleted.
type DeliveryConfirmation struct {
	BookingID         int64      `json:"booking_id"`
	ConfirmationCode  string     `json:"-"`
	CodeExpiry        time.Time  `json:"code_expiry"`
	AcceptedAt        time.Time  `json:"accepted_at"`
	RenterConfirmed   bool       `json:"renter_confirmed"`
	OwnerConfirmed    bool       `json:"owner_confirmed"`
	RenterConfirmedAt *time.Time `json:"renter_confirmed_at,omitempty"`
	OwnerConfirmedAt  *time.Time `json:"owner_confirmed_at,omitempty"`
}

// Complete reports whether both parties have confirmed.
func (d *DeliveryConfirmation) Complete() bool {
	return d.RenterConfirmed && d.OwnerConfirmed
}

// CodeExpired reports whether the confirmation code is past its expiry.
func (d *DeliveryConfirmation) CodeExpired(now time.Time) bool {
	return !d.CodeExpiry.IsZero() && now.After(d.CodeExpiry)
}

// OwnerGraceElapsed reports whether the owner-alone window has passed since
// acceptance.
func (d *DeliveryConfirmation) OwnerGraceElapsed(now time.Time, grace time.Duration) bool {
	return now.Sub(d.AcceptedAt) >= grace
}
