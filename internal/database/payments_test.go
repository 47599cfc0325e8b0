package database

import (
	"context"
	"testing"
	"time"

	"rentledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heldBooking(t *testing.T, db *DB) *models.Booking {
	t.Helper()
	ctx := context.Background()
	booking := newTestBooking(t, db)
	payment := &models.Payment{
		Method:          models.MethodEVCPlus,
		Account:         "612345678",
		AmountCents:     10000,
		ServiceFeeCents: 500,
	}
	require.NoError(t, db.HoldPayment(ctx, booking.ID, booking.Version, payment))
	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	return got
}

func TestHoldPayment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	assert.Equal(t, models.StatusPaymentHeld, booking.Status)
	assert.Equal(t, int64(2), booking.Version)

	payment, err := db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentHeld, payment.Status)
	assert.Equal(t, int64(500), payment.ServiceFeeCents)
	assert.Nil(t, payment.ReleasedAt)
}

func TestHoldPaymentTwice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	err := db.HoldPayment(ctx, booking.ID, booking.Version, &models.Payment{
		Method: models.MethodBank, Account: "1234567890", AmountCents: 5000, ServiceFeeCents: 250,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestHoldPaymentStaleVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := newTestBooking(t, db)
	payment := &models.Payment{Method: models.MethodEVCPlus, Account: "612345678", AmountCents: 10000, ServiceFeeCents: 500}
	err := db.HoldPayment(ctx, booking.ID, booking.Version+5, payment)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Transaction rolled back: no payment row, booking untouched
	_, err = db.GetPayment(ctx, booking.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRejectBookingForfeitsPayment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	require.NoError(t, db.RejectBooking(ctx, booking.ID, booking.Version, booking.OwnerID, "item damaged"))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOwnerRejected, got.Status)
	assert.Equal(t, "item damaged", got.RejectionReason)

	payment, err := db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentForfeited, payment.Status)
	assert.NotNil(t, payment.ReleasedAt)
}

func TestAcceptThenConfirmReleasesPayment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	delivery, err := db.AcceptBooking(ctx, booking.ID, booking.Version, booking.OwnerID, "123456", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "123456", delivery.ConfirmationCode)
	assert.True(t, delivery.CodeExpiry.After(time.Now()))

	booking, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOwnerAccepted, booking.Status)

	// Renter confirms first, nothing settles yet
	err = db.ConfirmDeliverySide(ctx, ConfirmDeliveryParams{
		BookingID: booking.ID, FromVersion: booking.Version, Role: models.RoleRenter, ActorID: booking.RenterID,
	})
	require.NoError(t, err)

	payment, err := db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentHeld, payment.Status)

	// Owner confirms and finalizes
	err = db.ConfirmDeliverySide(ctx, ConfirmDeliveryParams{
		BookingID: booking.ID, FromVersion: booking.Version, FromStatus: booking.Status,
		Role: models.RoleOwner, ActorID: booking.OwnerID, Complete: true,
	})
	require.NoError(t, err)

	booking, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, booking.Status)

	payment, err = db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, payment.Status)

	// Full history: Pending, Payment_Held, Owner_Accepted, Delivered, Completed
	events, err := db.GetStatusEvents(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, models.StatusDelivered, events[3].To)
	assert.Equal(t, models.StatusCompleted, events[4].To)
}

func TestOwnerConfirmAloneMovesToDelivered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	_, err := db.AcceptBooking(ctx, booking.ID, booking.Version, booking.OwnerID, "222222", 24*time.Hour)
	require.NoError(t, err)
	booking, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)

	// Owner confirms without the renter: item handed over, escrow still closed
	err = db.ConfirmDeliverySide(ctx, ConfirmDeliveryParams{
		BookingID: booking.ID, FromVersion: booking.Version, FromStatus: booking.Status,
		Role: models.RoleOwner, ActorID: booking.OwnerID,
	})
	require.NoError(t, err)

	booking, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, booking.Status)

	payment, err := db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentHeld, payment.Status)

	// Renter's code finally lands and closes the escrow
	err = db.ConfirmDeliverySide(ctx, ConfirmDeliveryParams{
		BookingID: booking.ID, FromVersion: booking.Version, FromStatus: booking.Status,
		Role: models.RoleRenter, ActorID: booking.RenterID, Complete: true,
	})
	require.NoError(t, err)

	payment, err = db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReleased, payment.Status)

	events, err := db.GetStatusEvents(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, models.StatusDelivered, events[3].To)
	assert.Equal(t, models.StatusCompleted, events[4].To)
}

func TestConfirmDeliverySideTwice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	_, err := db.AcceptBooking(ctx, booking.ID, booking.Version, booking.OwnerID, "654321", 24*time.Hour)
	require.NoError(t, err)
	booking, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)

	params := ConfirmDeliveryParams{BookingID: booking.ID, FromVersion: booking.Version, Role: models.RoleRenter, ActorID: booking.RenterID}
	require.NoError(t, db.ConfirmDeliverySide(ctx, params))
	assert.ErrorIs(t, db.ConfirmDeliverySide(ctx, params), ErrConcurrentModification)
}

func TestCancelBookingSettlesHold(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)
	require.NoError(t, db.CancelBooking(ctx, booking.ID, booking.Version, booking.Status, 0))

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	payment, err := db.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentForfeited, payment.Status)
}

func TestGetStaleHeldBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	booking := heldBooking(t, db)

	stale, err := db.GetStaleHeldBookings(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, booking.ID, stale[0].ID)

	stale, err = db.GetStaleHeldBookings(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
