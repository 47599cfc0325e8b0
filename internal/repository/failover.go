package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rentledger/internal/models"

	"github.com/rs/zerolog"
)

// FailoverViewRepository routes to the primary (Redis) until it errors, then
// serves from the in-memory fallback and probes the primary once a minute.
type FailoverViewRepository struct {
	primary   ViewRepository
	fallback  ViewRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time

	// pending holds booking ids whose primary invalidation never landed.
	// An entry cached in the primary before an outage would otherwise
	// resurface, pre-write, once the primary recovers.
	pendingMu sync.Mutex
	pending   map[int64]struct{}
}

func NewFailoverViewRepository(primary, fallback ViewRepository, logger *zerolog.Logger) *FailoverViewRepository {
	return &FailoverViewRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		pending:  make(map[int64]struct{}),
	}
}

func (r *FailoverViewRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary view repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck = time.Now()
}

func (r *FailoverViewRepository) GetView(ctx context.Context, bookingID int64) (*models.BookingView, error) {
	// A booking with an unconfirmed invalidation must not be served from the
	// primary until the deferred delete lands.
	if r.isPending(bookingID) {
		if err := r.primary.Invalidate(ctx, bookingID); err != nil {
			return r.fallback.GetView(ctx, bookingID)
		}
		r.forgetPending(bookingID)
	}

	if !r.isDown.Load() {
		view, err := r.primary.GetView(ctx, bookingID)
		if err == nil {
			return view, nil
		}
		r.markDown(err)
	}

	// Probe the primary for recovery
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		view, err := r.primary.GetView(ctx, bookingID)
		if err == nil {
			r.isDown.Store(false)
			return view, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetView(ctx, bookingID)
}

func (r *FailoverViewRepository) SetView(ctx context.Context, view *models.BookingView) error {
	if !r.isDown.Load() {
		err := r.primary.SetView(ctx, view)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetView(ctx, view)
}

func (r *FailoverViewRepository) Invalidate(ctx context.Context, bookingID int64) error {
	// Both sides are dropped unconditionally, the primary even while marked
	// down: a stale entry in either layer would break read-your-writes after
	// a failover flip. A failed primary delete is remembered and retried
	// before the primary serves that booking again.
	primaryErr := r.primary.Invalidate(ctx, bookingID)
	if primaryErr != nil {
		r.rememberPending(bookingID)
		if !r.isDown.Load() {
			r.markDown(primaryErr)
		}
	} else {
		r.forgetPending(bookingID)
	}
	if err := r.fallback.Invalidate(ctx, bookingID); err != nil {
		return err
	}
	return primaryErr
}

func (r *FailoverViewRepository) rememberPending(bookingID int64) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[bookingID] = struct{}{}
}

func (r *FailoverViewRepository) forgetPending(bookingID int64) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	delete(r.pending, bookingID)
}

func (r *FailoverViewRepository) isPending(bookingID int64) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	_, ok := r.pending[bookingID]
	return ok
}

func (r *FailoverViewRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}

// InvalidateBooking is the fire-and-forget form used after a committed
// transition; the error is logged, not propagated, because the write itself
// already succeeded.
func (r *FailoverViewRepository) InvalidateBooking(ctx context.Context, bookingID int64) {
	if err := r.Invalidate(ctx, bookingID); err != nil {
		r.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("view invalidation failed")
	}
}
