package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rentledger/internal/config"
	"rentledger/internal/database"
	"rentledger/internal/escrow"
	"rentledger/internal/export"
	"rentledger/internal/metrics"
	"rentledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the escrow coordinator over JSON HTTP. Business rules
// live in the engine; handlers only decode, dispatch and translate errors.
type HTTPServer struct {
	cfg      config.APIConfig
	engine   *escrow.Engine
	db       *database.DB
	views    repository.ViewRepository
	exporter *export.Exporter
	logger   *zerolog.Logger
	server   *http.Server
	auth     *Auth
}

func NewHTTPServer(
	cfg config.APIConfig,
	engine *escrow.Engine,
	db *database.DB,
	views repository.ViewRepository,
	exporter *export.Exporter,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		engine:   engine,
		db:       db,
		views:    views,
		exporter: exporter,
		logger:   logger,
		auth:     NewAuth(cfg),
	}

	// Paths mirror what the frontend already calls; changing them breaks
	// deployed clients.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/bookings", srv.handleBookings)
	mux.HandleFunc("/bookings/", srv.handleBookingByID)
	mux.HandleFunc("/payment/submit", srv.handlePaymentSubmit)
	mux.HandleFunc("/payment/", srv.handlePaymentGet)
	mux.HandleFunc("/rental-delivery/", srv.handleDelivery)
	mux.HandleFunc("/api/owner/queue", srv.handleOwnerQueue)
	mux.HandleFunc("/api/owner/bookings/", srv.handleOwnerAction)
	mux.HandleFunc("/api/admin/expire-sweep", srv.handleExpireSweep)
	mux.HandleFunc("/api/admin/export", srv.handleExport)
	mux.HandleFunc("/notifications", srv.handleNotifications)
	mux.HandleFunc("/notifications/", srv.handleNotificationRead)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the full middleware chain, used directly by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(normalizePath(r.URL.Path))
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// normalizePath collapses numeric path segments so metric labels stay bounded.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		numeric := true
		for _, c := range seg {
			if c < '0' || c > '9' {
				numeric = false
				break
			}
		}
		if numeric {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeEscrowError maps engine errors onto HTTP statuses.
func writeEscrowError(w http.ResponseWriter, err error) {
	var vErr *escrow.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, escrow.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, escrow.ErrConflict):
		metrics.IncConflict()
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
