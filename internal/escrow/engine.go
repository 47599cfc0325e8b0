package escrow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"rentledger/internal/config"
	"rentledger/internal/database"
	"rentledger/internal/events"
	"rentledger/internal/models"

	"github.com/rs/zerolog"
)

// Caller is the authenticated principal for an operation. Handlers resolve it
// from the bearer token; the engine never trusts IDs from request bodies.
type Caller struct {
	UserID int64
	Role   string
	Name   string
}

func (c Caller) IsAdmin() bool { return c.Role == models.RoleAdmin }

// EventPublisher fans transitions out to in-process consumers.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// SyncEnqueuer queues a ledger snapshot for the external mirror.
type SyncEnqueuer interface {
	EnqueueSnapshot(ctx context.Context, snapshot models.BookingSnapshot) error
}

// ViewCache drops cached booking views after a write so reads stay
// read-your-writes consistent.
type ViewCache interface {
	InvalidateBooking(ctx context.Context, bookingID int64)
}

// Engine owns every booking state transition. All guards run against a fresh
// read; the actual write is a versioned compare-and-set in the database, so a
// racing transition loses with ErrConflict instead of silently overwriting.
type Engine struct {
	db     *database.DB
	bus    EventPublisher
	cache  ViewCache
	syncQ  SyncEnqueuer
	cfg    config.EscrowConfig
	logger *zerolog.Logger

	// nowFn is swapped in tests to cross the grace and expiry windows.
	nowFn func() time.Time
}

func NewEngine(db *database.DB, bus EventPublisher, cache ViewCache, syncQ SyncEnqueuer, cfg config.EscrowConfig, logger *zerolog.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    bus,
		cache:  cache,
		syncQ:  syncQ,
		cfg:    cfg,
		logger: logger,
		nowFn:  time.Now,
	}
}

// CreateBooking opens a Pending booking for a catalog item.
func (e *Engine) CreateBooking(ctx context.Context, caller Caller, itemID int64, requirements map[string]any, contractAccepted bool) (*models.Booking, error) {
	item, ok := e.db.GetItem(itemID)
	if !ok {
		return nil, ErrNotFound
	}
	if !item.IsActive {
		return nil, validationErr("rental_item_id", "item is not available for booking")
	}
	if caller.UserID == item.OwnerID && !caller.IsAdmin() {
		return nil, validationErr("rental_item_id", "cannot book your own item")
	}
	if !contractAccepted {
		return nil, validationErr("contract_accepted", "rental contract must be accepted")
	}
	if err := models.ValidateRequirements(item.Fields, requirements); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	amountCents, err := amountFromRequirements(requirements)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		RentalItemID:       item.ID,
		ItemName:           item.Name,
		RenterID:           caller.UserID,
		OwnerID:            item.OwnerID,
		RequirementsData:   requirements,
		ContractAccepted:   contractAccepted,
		PaymentAmountCents: amountCents,
		Status:             models.StatusPending,
	}
	if err := e.db.CreateBooking(ctx, booking); err != nil {
		return nil, err
	}

	e.afterTransition(ctx, booking, events.EventBookingCreated, models.RoleRenter, caller.UserID, "")
	return booking, nil
}

// SubmitPayment freezes the renter's money and the service fee in one step.
// The amount was fixed on the booking at creation and the fee is computed
// here, once; neither is ever taken from the client or recomputed on release.
func (e *Engine) SubmitPayment(ctx context.Context, caller Caller, bookingID int64, method, account string) (*models.Payment, error) {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	if booking.RenterID != caller.UserID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if booking.Status != models.StatusPending {
		return nil, ErrInvalidState
	}
	if err := validatePaymentMethod(method, account); err != nil {
		return nil, err
	}
	if booking.PaymentAmountCents <= 0 {
		return nil, ErrInvalidState
	}

	payment := &models.Payment{
		Method:          method,
		Account:         account,
		AmountCents:     booking.PaymentAmountCents,
		ServiceFeeCents: booking.PaymentAmountCents * int64(e.cfg.ServiceFeeBps) / 10000,
	}
	if err := e.db.HoldPayment(ctx, bookingID, booking.Version, payment); err != nil {
		return nil, translate(err)
	}

	booking.Status = models.StatusPaymentHeld
	e.afterTransition(ctx, booking, events.EventPaymentHeld, models.RoleRenter, caller.UserID, "")
	return payment, nil
}

// OwnerAccept commits the owner to the deal and issues the delivery code.
// The code goes to the renter as a notification, never through the event bus.
func (e *Engine) OwnerAccept(ctx context.Context, caller Caller, bookingID int64) (*models.DeliveryConfirmation, error) {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	if booking.OwnerID != caller.UserID && !caller.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if booking.Status != models.StatusPaymentHeld {
		return nil, ErrInvalidState
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	delivery, err := e.db.AcceptBooking(ctx, bookingID, booking.Version, caller.UserID, code, e.cfg.CodeTTL)
	if err != nil {
		return nil, translate(err)
	}

	e.sendCode(ctx, booking, code)

	booking.Status = models.StatusOwnerAccepted
	e.afterTransition(ctx, booking, events.EventOwnerAccepted, models.RoleOwner, caller.UserID, "")
	return delivery, nil
}

// OwnerReject closes the booking and pushes the hold down the refund path.
func (e *Engine) OwnerReject(ctx context.Context, caller Caller, bookingID int64, reason string) error {
	if reason == "" {
		return validationErr("reason", "rejection reason is required")
	}

	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return translate(err)
	}
	if booking.OwnerID != caller.UserID && !caller.IsAdmin() {
		return ErrUnauthorized
	}
	if booking.Status != models.StatusPaymentHeld {
		return ErrInvalidState
	}

	if err := e.db.RejectBooking(ctx, bookingID, booking.Version, caller.UserID, reason); err != nil {
		return translate(err)
	}

	booking.Status = models.StatusOwnerRejected
	e.afterTransition(ctx, booking, events.EventOwnerRejected, models.RoleOwner, caller.UserID, reason)
	return nil
}

// RenterConfirm consumes the delivery code. An empty code is a resend
// request: a fresh code with a fresh expiry replaces the stored one, so an
// expired code never leaves the escrow waiting on an admin override.
func (e *Engine) RenterConfirm(ctx context.Context, caller Caller, bookingID int64, code string) (resent bool, err error) {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return false, translate(err)
	}
	if booking.RenterID != caller.UserID && !caller.IsAdmin() {
		return false, ErrUnauthorized
	}
	if booking.Status != models.StatusOwnerAccepted && booking.Status != models.StatusDelivered {
		return false, ErrInvalidState
	}

	delivery, err := e.db.GetDeliveryConfirmation(ctx, bookingID)
	if err != nil {
		return false, translate(err)
	}

	if delivery.RenterConfirmed {
		return false, ErrInvalidState
	}

	if code == "" {
		fresh, err := GenerateCode()
		if err != nil {
			return false, err
		}
		if err := e.db.RefreshDeliveryCode(ctx, bookingID, fresh, e.nowFn().Add(e.cfg.CodeTTL)); err != nil {
			return false, translate(err)
		}
		e.sendCode(ctx, booking, fresh)
		return true, nil
	}
	if delivery.CodeExpired(e.nowFn()) {
		return false, fmt.Errorf("%w: confirmation code has expired", ErrInvalidCode)
	}
	if code != delivery.ConfirmationCode {
		return false, ErrInvalidCode
	}

	err = e.db.ConfirmDeliverySide(ctx, database.ConfirmDeliveryParams{
		BookingID:   bookingID,
		FromVersion: booking.Version,
		FromStatus:  booking.Status,
		Role:        models.RoleRenter,
		ActorID:     caller.UserID,
		Complete:    delivery.OwnerConfirmed,
	})
	if err != nil {
		return false, translate(err)
	}

	if delivery.OwnerConfirmed {
		booking.Status = models.StatusCompleted
		e.afterTransition(ctx, booking, events.EventBookingCompleted, models.RoleRenter, caller.UserID, "")
	}
	return false, nil
}

// OwnerConfirm needs no code; the owner is already authenticated. Alone it is
// only allowed once the grace window has passed, otherwise the renter's
// confirmation must come first.
func (e *Engine) OwnerConfirm(ctx context.Context, caller Caller, bookingID int64) error {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return translate(err)
	}
	if booking.OwnerID != caller.UserID && !caller.IsAdmin() {
		return ErrUnauthorized
	}
	if booking.Status != models.StatusOwnerAccepted {
		return ErrInvalidState
	}

	delivery, err := e.db.GetDeliveryConfirmation(ctx, bookingID)
	if err != nil {
		return translate(err)
	}
	if delivery.OwnerConfirmed {
		return ErrInvalidState
	}
	if !delivery.RenterConfirmed && !delivery.OwnerGraceElapsed(e.nowFn(), e.cfg.OwnerGrace) {
		return ErrInvalidState
	}

	err = e.db.ConfirmDeliverySide(ctx, database.ConfirmDeliveryParams{
		BookingID:   bookingID,
		FromVersion: booking.Version,
		FromStatus:  booking.Status,
		Role:        models.RoleOwner,
		ActorID:     caller.UserID,
		Complete:    delivery.RenterConfirmed,
	})
	if err != nil {
		return translate(err)
	}

	if delivery.RenterConfirmed {
		booking.Status = models.StatusCompleted
		e.afterTransition(ctx, booking, events.EventBookingCompleted, models.RoleOwner, caller.UserID, "")
	} else {
		booking.Status = models.StatusDelivered
		e.afterTransition(ctx, booking, events.EventDeliveryConfirmed, models.RoleOwner, caller.UserID, "")
	}
	return nil
}

// OverrideStatus is the admin escape hatch around the transition guards.
// Every use is audited and alerts the managers.
func (e *Engine) OverrideStatus(ctx context.Context, caller Caller, bookingID int64, newStatus, reason string) error {
	if !caller.IsAdmin() {
		return ErrUnauthorized
	}
	if !models.IsValidStatus(newStatus) {
		return validationErr("status", "unknown status %q", newStatus)
	}
	if reason == "" {
		return validationErr("reason", "override reason is required")
	}

	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return translate(err)
	}
	if booking.Status == newStatus {
		return ErrInvalidState
	}

	if err := e.db.OverrideBookingStatus(ctx, bookingID, booking.Version, booking.Status, newStatus, caller.UserID, reason); err != nil {
		return translate(err)
	}

	fromStatus := booking.Status
	booking.Status = newStatus
	e.afterTransition(ctx, booking, events.EventStatusOverridden, models.RoleAdmin, caller.UserID, fromStatus+" -> "+newStatus+": "+reason)
	return nil
}

// CancelExpired sweeps Payment_Held bookings whose hold outlived the TTL.
// Lazy by design: it runs when an admin calls it, there is no timer daemon.
func (e *Engine) CancelExpired(ctx context.Context, caller Caller) (int, error) {
	if !caller.IsAdmin() {
		return 0, ErrUnauthorized
	}

	cutoff := e.nowFn().Add(-e.cfg.HoldTTL)
	stale, err := e.db.GetStaleHeldBookings(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, booking := range stale {
		err := e.db.CancelBooking(ctx, booking.ID, booking.Version, booking.Status, caller.UserID)
		if errors.Is(err, database.ErrConcurrentModification) {
			// Someone acted on it between the scan and the sweep. Leave it.
			continue
		}
		if err != nil {
			return cancelled, err
		}
		cancelled++
		booking.Status = models.StatusCancelled
		e.afterTransition(ctx, booking, events.EventBookingCancelled, models.RoleAdmin, caller.UserID, "payment hold expired")
	}
	return cancelled, nil
}

// Read operations. All are party-scoped: only the renter, the owner, or an
// admin can see a booking's records.

func (e *Engine) GetBooking(ctx context.Context, caller Caller, bookingID int64) (*models.Booking, error) {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	if err := e.requireParty(booking, caller); err != nil {
		return nil, err
	}
	return booking, nil
}

func (e *Engine) GetPayment(ctx context.Context, caller Caller, bookingID int64) (*models.Payment, error) {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	if err := e.requireParty(booking, caller); err != nil {
		return nil, err
	}
	payment, err := e.db.GetPayment(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	return payment, nil
}

func (e *Engine) GetDelivery(ctx context.Context, caller Caller, bookingID int64) (*models.DeliveryConfirmation, error) {
	booking, err := e.db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	if err := e.requireParty(booking, caller); err != nil {
		return nil, err
	}
	delivery, err := e.db.GetDeliveryConfirmation(ctx, bookingID)
	if err != nil {
		return nil, translate(err)
	}
	return delivery, nil
}

func (e *Engine) GetUserBookings(ctx context.Context, caller Caller) ([]*models.Booking, error) {
	return e.db.GetUserBookings(ctx, caller.UserID)
}

func (e *Engine) GetOwnerQueue(ctx context.Context, caller Caller) ([]*models.Booking, error) {
	return e.db.GetOwnerBookingsByStatus(ctx, caller.UserID, models.StatusPaymentHeld)
}

func (e *Engine) requireParty(booking *models.Booking, caller Caller) error {
	if caller.IsAdmin() || caller.UserID == booking.RenterID || caller.UserID == booking.OwnerID {
		return nil
	}
	return ErrUnauthorized
}

// sendCode delivers the confirmation code to the renter as an in-app
// notification. Failures are logged, not surfaced: the code can always be
// re-requested.
func (e *Engine) sendCode(ctx context.Context, booking *models.Booking, code string) {
	n := &models.Notification{
		UserID:  booking.RenterID,
		Message: "Your delivery confirmation code for " + booking.ItemName + " is " + code,
		Type:    "delivery_code",
	}
	if err := e.db.CreateNotification(ctx, n); err != nil {
		e.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("failed to deliver confirmation code")
	}
}

// afterTransition runs the post-commit fan-out: cache invalidation for
// read-your-writes, the domain event, and the ledger mirror enqueue.
func (e *Engine) afterTransition(ctx context.Context, booking *models.Booking, eventType, actor string, actorID int64, reason string) {
	if e.cache != nil {
		e.cache.InvalidateBooking(ctx, booking.ID)
	}

	// No payment row exists before submission; that read miss is normal.
	payment, err := e.db.GetPayment(ctx, booking.ID)
	if err != nil {
		payment = nil
	}

	payload := events.EscrowEventPayload{
		BookingID: booking.ID,
		ItemName:  booking.ItemName,
		RenterID:  booking.RenterID,
		OwnerID:   booking.OwnerID,
		Status:    booking.Status,
		Actor:     actor,
		ActorID:   actorID,
		Reason:    reason,
	}
	if payment != nil {
		payload.PaymentStatus = payment.Status
	}
	if e.bus != nil {
		if err := e.bus.PublishJSON(eventType, payload); err != nil {
			e.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
		}
	}

	if e.syncQ != nil {
		snapshot := models.BookingSnapshot{
			BookingID: booking.ID,
			ItemName:  booking.ItemName,
			RenterID:  booking.RenterID,
			OwnerID:   booking.OwnerID,
			Status:    booking.Status,
			UpdatedAt: e.nowFn(),
		}
		if payment != nil {
			snapshot.PaymentStatus = payment.Status
			snapshot.AmountCents = payment.AmountCents
			snapshot.ServiceFeeCents = payment.ServiceFeeCents
		}
		if err := e.syncQ.EnqueueSnapshot(ctx, snapshot); err != nil {
			e.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("ledger sync enqueue error")
		}
	}
}

// amountFromRequirements extracts the deal price from the submitted
// requirements. The frontend sends total_price in dollars; the ledger stores
// integer cents.
func amountFromRequirements(requirements map[string]any) (int64, error) {
	raw, ok := requirements["total_price"]
	if !ok {
		return 0, validationErr("total_price", "total price is required")
	}

	var dollars float64
	switch v := raw.(type) {
	case float64:
		dollars = v
	case int:
		dollars = float64(v)
	case int64:
		dollars = float64(v)
	default:
		return 0, validationErr("total_price", "total price must be a number")
	}

	cents := int64(math.Round(dollars * 100))
	if cents <= 0 {
		return 0, validationErr("total_price", "total price must be positive")
	}
	return cents, nil
}

func validatePaymentMethod(method, account string) error {
	for _, r := range account {
		if r < '0' || r > '9' {
			return validationErr("account", "account must contain only digits")
		}
	}
	switch method {
	case models.MethodEVCPlus:
		if len(account) < 9 || len(account) > 10 {
			return validationErr("account", "EVC Plus account must be 9-10 digits")
		}
	case models.MethodBank:
		if len(account) < 10 {
			return validationErr("account", "bank account must be at least 10 digits")
		}
	default:
		return validationErr("method", "unsupported payment method %q", method)
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, database.ErrConcurrentModification):
		return ErrConflict
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrAlreadyExists):
		return ErrInvalidState
	}
	return err
}

