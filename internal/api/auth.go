package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"rentledger/internal/config"
	"rentledger/internal/escrow"
	"rentledger/internal/models"

	"golang.org/x/time/rate"
)

type ctxKey int

const callerKey ctxKey = iota

// Auth resolves bearer tokens to callers and applies per-token rate limits.
// Token issuance lives in the external auth service; this layer only matches
// tokens it was configured with.
type Auth struct {
	cfg      config.APIConfig
	tokens   map[string]config.APIToken
	limiters sync.Map // map[string]*rate.Limiter
}

func NewAuth(cfg config.APIConfig) *Auth {
	m := make(map[string]config.APIToken, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		m[t.Token] = t
	}
	return &Auth{cfg: cfg, tokens: m}
}

// Wrap authenticates every request except the health probe.
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		caller, errMsg := a.resolveCaller(r)
		if errMsg != "" {
			writeError(w, http.StatusUnauthorized, errMsg)
			return
		}

		if !a.allow(caller) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (a *Auth) resolveCaller(r *http.Request) (escrow.Caller, string) {
	if !a.cfg.Auth.IsEnabled() {
		// Dev mode only. Never run with auth disabled in front of real money.
		return escrow.Caller{UserID: 1, Role: models.RoleAdmin, Name: "dev"}, ""
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return escrow.Caller{}, "missing bearer token"
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return escrow.Caller{}, "malformed authorization header"
	}
	token = strings.TrimSpace(token)

	entry, ok := a.tokens[token]
	if !ok || subtle.ConstantTimeCompare([]byte(entry.Token), []byte(token)) != 1 {
		return escrow.Caller{}, "invalid token"
	}

	return escrow.Caller{UserID: entry.UserID, Role: entry.Role, Name: entry.Name}, ""
}

func (a *Auth) allow(caller escrow.Caller) bool {
	if a.cfg.RateLimit.RPS <= 0 {
		return true
	}
	return a.limiterFor(caller.UserID).Allow()
}

func (a *Auth) limiterFor(userID int64) *rate.Limiter {
	if v, ok := a.limiters.Load(userID); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	if actual, loaded := a.limiters.LoadOrStore(userID, lim); loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func withCaller(ctx context.Context, caller escrow.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the authenticated caller set by Auth.Wrap.
func CallerFromContext(ctx context.Context) (escrow.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(escrow.Caller)
	return caller, ok
}
