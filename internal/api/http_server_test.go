package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"rentledger/internal/config"
	"rentledger/internal/database"
	"rentledger/internal/escrow"
	"rentledger/internal/events"
	"rentledger/internal/export"
	"rentledger/internal/models"
	"rentledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	renterToken   = "renter-token"
	ownerToken    = "owner-token"
	adminToken    = "admin-token"
	strangerToken = "stranger-token"
)

func newTestServer(t *testing.T) (*HTTPServer, *database.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetItems([]models.RentalItem{
		{ID: 1, OwnerID: 200, Name: "Canon EOS R5", IsActive: true, Fields: []models.RequirementField{
			{Name: "full_name", Kind: models.FieldString, Required: true},
		}},
	})

	logger := zerolog.Nop()
	escrowCfg := config.EscrowConfig{
		ServiceFeeBps: models.DefaultServiceFeeBps,
		CodeTTL:       24 * time.Hour,
		OwnerGrace:    24 * time.Hour,
		HoldTTL:       7 * 24 * time.Hour,
	}
	cache := repository.NewFailoverViewRepository(
		repository.NewMemoryViewRepository(time.Minute),
		repository.NewMemoryViewRepository(time.Minute),
		&logger,
	)
	engine := escrow.NewEngine(db, events.NewEventBus(), cache, nil, escrowCfg, &logger)

	apiCfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			// Enabled left unset: auth defaults on
			Tokens: []config.APIToken{
				{Token: renterToken, UserID: 100, Role: models.RoleRenter, Name: "renter"},
				{Token: ownerToken, UserID: 200, Role: models.RoleOwner, Name: "owner"},
				{Token: adminToken, UserID: 1, Role: models.RoleAdmin, Name: "admin"},
				{Token: strangerToken, UserID: 999, Role: models.RoleOwner, Name: "stranger"},
			},
		},
	}
	exporter := export.NewExporter(db, filepath.Join(dir, "exports"), &logger)
	return NewHTTPServer(apiCfg, engine, db, cache, exporter, &logger), db
}

func doRequest(t *testing.T, srv *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func createBookingHTTP(t *testing.T, srv *HTTPServer) int64 {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/bookings", renterToken, map[string]any{
		"item_id":           1,
		"requirements":      map[string]any{"full_name": "Ayaan Warsame", "total_price": 100},
		"contract_accepted": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var booking models.Booking
	decodeBody(t, rec, &booking)
	require.NotZero(t, booking.ID)
	return booking.ID
}

func submitPaymentHTTP(t *testing.T, srv *HTTPServer, bookingID int64) {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/payment/submit", renterToken, map[string]any{
		"booking_id":      bookingID,
		"payment_method":  models.MethodEVCPlus,
		"payment_account": "612345678",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	id := createBookingHTTP(t, srv)

	rec := doRequest(t, srv, http.MethodPost, "/payment/submit", renterToken, map[string]any{
		"booking_id":      id,
		"payment_method":  models.MethodEVCPlus,
		"payment_account": "612345678",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var payment models.Payment
	decodeBody(t, rec, &payment)
	assert.Equal(t, int64(10000), payment.AmountCents)
	assert.Equal(t, int64(500), payment.ServiceFeeCents)

	rec = doRequest(t, srv, http.MethodPost, "/api/owner/bookings/1/accept", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The code travels via the renter's notification, not the API response.
	delivery, err := db.GetDeliveryConfirmation(ctx, id)
	require.NoError(t, err)
	require.Len(t, delivery.ConfirmationCode, 6)

	rec = doRequest(t, srv, http.MethodPost, "/rental-delivery/1/renter-confirm", renterToken, map[string]any{
		"code": delivery.ConfirmationCode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/api/owner/bookings/1/confirm-delivery", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var booking models.Booking
	decodeBody(t, rec, &booking)
	assert.Equal(t, models.StatusCompleted, booking.Status)

	// Cached view reflects the final state, payment included
	rec = doRequest(t, srv, http.MethodGet, "/bookings/1", renterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view models.BookingView
	decodeBody(t, rec, &view)
	assert.Equal(t, models.StatusCompleted, view.Booking.Status)
	require.NotNil(t, view.Payment)
	assert.Equal(t, models.PaymentReleased, view.Payment.Status)

	rec = doRequest(t, srv, http.MethodGet, "/payment/1", renterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &payment)
	assert.Equal(t, models.PaymentReleased, payment.Status)
}

func TestPaymentAmountIgnoresClientFigure(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createBookingHTTP(t, srv)

	// A renter naming their own price gets the booking's price anyway
	rec := doRequest(t, srv, http.MethodPost, "/payment/submit", renterToken, map[string]any{
		"booking_id":           id,
		"payment_method":       models.MethodEVCPlus,
		"payment_account":      "612345678",
		"payment_amount_cents": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var payment models.Payment
	decodeBody(t, rec, &payment)
	assert.Equal(t, int64(10000), payment.AmountCents)
	assert.Equal(t, int64(500), payment.ServiceFeeCents)
}

func TestRenterConfirmEmptyBodyResendsCode(t *testing.T) {
	srv, db := newTestServer(t)

	id := createBookingHTTP(t, srv)
	submitPaymentHTTP(t, srv, id)
	rec := doRequest(t, srv, http.MethodPost, "/api/owner/bookings/1/accept", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/rental-delivery/1/renter-confirm", renterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Resent bool `json:"resent"`
	}
	decodeBody(t, rec, &body)
	assert.True(t, body.Resent)

	// Resend writes a second code notification for the renter
	notifications, err := db.GetUserNotifications(context.Background(), 100, 20)
	require.NoError(t, err)
	codeNotifs := 0
	for _, n := range notifications {
		if n.Type == "delivery_code" {
			codeNotifs++
		}
	}
	assert.Equal(t, 2, codeNotifs)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/bookings", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// Unknown booking
	rec := doRequest(t, srv, http.MethodGet, "/bookings/99", renterToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	createBookingHTTP(t, srv)

	// Validation failure
	rec = doRequest(t, srv, http.MethodPost, "/payment/submit", renterToken, map[string]any{
		"booking_id":      1,
		"payment_method":  "CASH",
		"payment_account": "612345678",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	assert.Contains(t, errBody["error"], "method")

	// Owner cannot submit the renter's payment
	rec = doRequest(t, srv, http.MethodPost, "/payment/submit", ownerToken, map[string]any{
		"booking_id":      1,
		"payment_method":  models.MethodEVCPlus,
		"payment_account": "612345678",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Accept before payment is an invalid state
	rec = doRequest(t, srv, http.MethodPost, "/api/owner/bookings/1/accept", ownerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOwnerQueue(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createBookingHTTP(t, srv)
	submitPaymentHTTP(t, srv, id)

	rec := doRequest(t, srv, http.MethodGet, "/api/owner/queue", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Bookings []models.Booking `json:"bookings"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Bookings, 1)
	assert.Equal(t, models.StatusPaymentHeld, body.Bookings[0].Status)
}

func TestAdminOverrideAndAudit(t *testing.T) {
	srv, db := newTestServer(t)

	id := createBookingHTTP(t, srv)

	// Renters cannot override
	rec := doRequest(t, srv, http.MethodPut, "/api/owner/bookings/1/status", renterToken, map[string]any{
		"status": models.StatusCancelled, "reason": "user request",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPut, "/api/owner/bookings/1/status", adminToken, map[string]any{
		"status": models.StatusCancelled, "reason": "user request",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var booking models.Booking
	decodeBody(t, rec, &booking)
	assert.Equal(t, models.StatusCancelled, booking.Status)

	records, err := db.GetAuditRecords(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user request", records[0].Reason)
}

func TestExpireSweepIsAdminOnly(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/admin/expire-sweep", renterToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/admin/expire-sweep", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	decodeBody(t, rec, &body)
	assert.Equal(t, 0, body["cancelled"])
}

func TestExportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/admin/export", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/admin/export", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Contains(t, body["file"], ".xlsx")
}

func TestNotificationsEndpoint(t *testing.T) {
	srv, db := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, db.CreateNotification(ctx, &models.Notification{
		UserID: 100, Message: "Owner accepted your booking", Type: "booking",
	}))

	rec := doRequest(t, srv, http.MethodGet, "/notifications", renterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, 1, body.Unread)

	// Another user cannot ack it
	rec = doRequest(t, srv, http.MethodPut, "/notifications/1/read", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodPut, "/notifications/1/read", renterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/notifications", renterToken, nil)
	decodeBody(t, rec, &body)
	assert.Equal(t, 0, body.Unread)
}

func TestStrangerCannotReadBooking(t *testing.T) {
	srv, _ := newTestServer(t)

	createBookingHTTP(t, srv)

	// The admin token belongs to user 1, who is neither party, but admins pass.
	rec := doRequest(t, srv, http.MethodGet, "/bookings/1", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A non-party token is rejected even when the view is already cached.
	rec = doRequest(t, srv, http.MethodGet, "/bookings/1", strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
