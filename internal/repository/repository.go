package repository

import (
	"context"
	"time"

	"rentledger/internal/models"
)

// ViewRepository caches booking views and tracks per-user request budgets.
// A cache miss is (nil, nil), not an error.
type ViewRepository interface {
	GetView(ctx context.Context, bookingID int64) (*models.BookingView, error)
	SetView(ctx context.Context, view *models.BookingView) error
	Invalidate(ctx context.Context, bookingID int64) error
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}
