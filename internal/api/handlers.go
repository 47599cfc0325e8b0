package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentledger/internal/database"
	"rentledger/internal/escrow"
	"rentledger/internal/models"
)

// createBookingBudget caps how many bookings one user can open per hour,
// independent of the per-request limiter.
const (
	createBookingBudget = 20
	createBookingWindow = time.Hour
)

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	switch r.Method {
	case http.MethodGet:
		bookings, err := s.engine.GetUserBookings(r.Context(), caller)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})

	case http.MethodPost:
		var body struct {
			ItemID           int64          `json:"item_id"`
			Requirements     map[string]any `json:"requirements"`
			ContractAccepted bool           `json:"contract_accepted"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if s.views != nil {
			allowed, err := s.views.CheckRateLimit(r.Context(), caller.UserID, createBookingBudget, createBookingWindow)
			if err == nil && !allowed {
				writeError(w, http.StatusTooManyRequests, "booking creation limit reached")
				return
			}
		}

		booking, err := s.engine.CreateBooking(r.Context(), caller, body.ItemID, body.Requirements, body.ContractAccepted)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, booking)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, action, ok := parseIDPath(r.URL.Path, "/bookings/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch action {
	case "":
		view, err := s.bookingView(r.Context(), caller, id)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case "events":
		// Party check piggybacks on the booking read.
		if _, err := s.engine.GetBooking(r.Context(), caller, id); err != nil {
			writeEscrowError(w, err)
			return
		}
		events, err := s.db.GetStatusEvents(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handlePaymentSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		BookingID int64  `json:"booking_id"`
		Method    string `json:"payment_method"`
		Account   string `json:"payment_account"`
		// Some clients still send an amount; the escrowed figure always
		// comes from the booking itself.
		AmountCents int64 `json:"payment_amount_cents"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := s.engine.SubmitPayment(r.Context(), caller, body.BookingID, body.Method, body.Account)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *HTTPServer) handlePaymentGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, action, ok := parseIDPath(r.URL.Path, "/payment/")
	if !ok || action != "" {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	payment, err := s.engine.GetPayment(r.Context(), caller, id)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *HTTPServer) handleDelivery(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	id, action, ok := parseIDPath(r.URL.Path, "/rental-delivery/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		delivery, err := s.engine.GetDelivery(r.Context(), caller, id)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, delivery)

	case action == "renter-confirm" && r.Method == http.MethodPost:
		// An empty body is a resend request, not a malformed one.
		var body struct {
			Code string `json:"code"`
		}
		if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		resent, err := s.engine.RenterConfirm(r.Context(), caller, id, body.Code)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		booking, err := s.engine.GetBooking(r.Context(), caller, id)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resent": resent, "booking": booking})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleOwnerQueue(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	bookings, err := s.engine.GetOwnerQueue(r.Context(), caller)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleOwnerAction(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	id, action, ok := parseIDPath(r.URL.Path, "/api/owner/bookings/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch {
	case action == "accept" && r.Method == http.MethodPost:
		delivery, err := s.engine.OwnerAccept(r.Context(), caller, id)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, delivery)

	case action == "reject" && r.Method == http.MethodPost:
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.engine.OwnerReject(r.Context(), caller, id, body.Reason); err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusOwnerRejected})

	case action == "confirm-delivery" && r.Method == http.MethodPost:
		// The frontend sends a confirmation_code field here; the owner's
		// identity is already the bearer token, so the body is ignored.
		if err := s.engine.OwnerConfirm(r.Context(), caller, id); err != nil {
			writeEscrowError(w, err)
			return
		}
		booking, err := s.engine.GetBooking(r.Context(), caller, id)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	case action == "status" && r.Method == http.MethodPut:
		var body struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.engine.OverrideStatus(r.Context(), caller, id, body.Status, body.Reason); err != nil {
			writeEscrowError(w, err)
			return
		}
		booking, err := s.engine.GetBooking(r.Context(), caller, id)
		if err != nil {
			writeEscrowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleExpireSweep(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cancelled, err := s.engine.CancelExpired(r.Context(), caller)
	if err != nil {
		writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": cancelled})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !caller.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	path, err := s.exporter.LedgerToExcel(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("ledger export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	notifications, err := s.db.GetUserNotifications(r.Context(), caller.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	unread, err := s.db.CountUnreadNotifications(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications, "unread": unread})
}

func (s *HTTPServer) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}

	id, action, pathOK := parseIDPath(r.URL.Path, "/notifications/")
	if !pathOK || action != "read" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.db.MarkNotificationRead(r.Context(), id, caller.UserID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bookingView assembles the cached read model, falling back to the engine on
// a miss. The cache entry is dropped on every transition, so a hit is always
// current.
func (s *HTTPServer) bookingView(ctx context.Context, caller escrow.Caller, id int64) (*models.BookingView, error) {
	if s.views != nil {
		if view, err := s.views.GetView(ctx, id); err == nil && view != nil {
			if err := viewAccess(view, caller); err != nil {
				return nil, err
			}
			return view, nil
		}
	}

	booking, err := s.engine.GetBooking(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	view := &models.BookingView{Booking: *booking}
	if payment, err := s.engine.GetPayment(ctx, caller, id); err == nil {
		view.Payment = payment
	}
	if delivery, err := s.engine.GetDelivery(ctx, caller, id); err == nil {
		view.Delivery = delivery
	}

	if s.views != nil {
		if err := s.views.SetView(ctx, view); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", id).Msg("failed to cache booking view")
		}
	}
	return view, nil
}

func viewAccess(view *models.BookingView, caller escrow.Caller) error {
	if caller.IsAdmin() || caller.UserID == view.Booking.RenterID || caller.UserID == view.Booking.OwnerID {
		return nil
	}
	return escrow.ErrUnauthorized
}

// parseIDPath splits "<prefix>{id}[/{action}]" into its parts.
func parseIDPath(path, prefix string) (int64, string, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return 0, "", false
	}

	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 || strings.Contains(action, "/") {
		return 0, "", false
	}
	return id, action, true
}
