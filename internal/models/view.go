package models

// BookingView is the aggregate read model the frontend polls: booking plus
// whatever payment and delivery records exist so far. Cached per booking and
// invalidated on every transition.
type BookingView struct {
	Booking  Booking               `json:"booking"`
	Payment  *Payment              `json:"payment,omitempty"`
	Delivery *DeliveryConfirmation `json:"delivery,omitempty"`
}
