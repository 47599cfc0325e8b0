package models

// Booking statuses. The frontend renders these verbatim, so the casing is
// part of the wire contract.
const (
	StatusPending       = "Pending"
	StatusPaymentHeld   = "Payment_Held"
	StatusOwnerAccepted = "Owner_Accepted"
	StatusOwnerRejected = "Owner_Rejected"
	StatusDelivered     = "Delivered"
	StatusCompleted     = "Completed"
	StatusCancelled     = "Cancelled"
)

// Payment lifecycle.
const (
	PaymentHeld      = "HELD"
	PaymentReleased  = "RELEASED"
	PaymentForfeited = "FORFEITED"
)

// Payment methods accepted by the escrow.
const (
	MethodEVCPlus = "EVC_PLUS"
	MethodBank    = "BANK"
)

// Caller roles.
const (
	RoleRenter = "renter"
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
)

const (
	// DefaultServiceFeeBps is the platform cut in basis points (5%).
	DefaultServiceFeeBps = 500

	// DefaultCodeTTLHours is how long a confirmation code stays valid.
	DefaultCodeTTLHours = 24

	// DefaultOwnerGraceHours is the owner-alone confirmation window.
	DefaultOwnerGraceHours = 24

	// WorkerQueueSize is the in-memory buffer of the ledger sync worker.
	WorkerQueueSize = 1000
)

// AllStatuses lists every valid booking status.
func AllStatuses() []string {
	return []string{
		StatusPending,
		StatusPaymentHeld,
		StatusOwnerAccepted,
		StatusOwnerRejected,
		StatusDelivered,
		StatusCompleted,
		StatusCancelled,
	}
}

// IsValidStatus reports whether s is a known booking status.
func IsValidStatus(s string) bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}
