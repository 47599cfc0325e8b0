package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rentledger/internal/config"
	"rentledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func authConfig(rps float64, burst int) config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: boolPtr(true),
			Tokens: []config.APIToken{
				{Token: "tok-renter", UserID: 100, Role: models.RoleRenter, Name: "renter"},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: rps, Burst: burst},
	}
}

func wrapEcho(a *Auth) http.Handler {
	return a.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Caller-Role", caller.Role)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthResolvesToken(t *testing.T) {
	handler := wrapEcho(NewAuth(authConfig(0, 0)))

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.Header.Set("Authorization", "Bearer tok-renter")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleRenter, rec.Header().Get("X-Caller-Role"))
}

func TestAuthRejectsMissingAndMalformed(t *testing.T) {
	handler := wrapEcho(NewAuth(authConfig(0, 0)))

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"unknown token", "Bearer nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthRateLimitsPerUser(t *testing.T) {
	handler := wrapEcho(NewAuth(authConfig(0.001, 2)))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
		req.Header.Set("Authorization", "Bearer tok-renter")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	req.Header.Set("Authorization", "Bearer tok-renter")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAuthDisabledUsesDevCaller(t *testing.T) {
	cfg := authConfig(0, 0)
	cfg.Auth.Enabled = boolPtr(false)
	handler := wrapEcho(NewAuth(cfg))

	req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleAdmin, rec.Header().Get("X-Caller-Role"))
}

func TestParseIDPath(t *testing.T) {
	cases := []struct {
		path   string
		id     int64
		action string
		ok     bool
	}{
		{"/bookings/7", 7, "", true},
		{"/bookings/7/events", 7, "events", true},
		{"/rental-delivery/7/renter-confirm", 0, "", false},
		{"/bookings/abc", 0, "", false},
		{"/bookings/-1", 0, "", false},
		{"/bookings/7/a/b", 0, "", false},
	}
	for _, tc := range cases {
		id, action, ok := parseIDPath(tc.path, "/bookings/")
		assert.Equal(t, tc.ok, ok, tc.path)
		if tc.ok {
			assert.Equal(t, tc.id, id, tc.path)
			assert.Equal(t, tc.action, action, tc.path)
		}
	}
}
