package repository

import (
	"context"
	"sync"
	"time"

	"rentledger/internal/models"
)

// MemoryViewRepository is the in-process fallback used when Redis is down or
// not configured. Entries honor the same TTL as the Redis variant.
type MemoryViewRepository struct {
	mu    sync.RWMutex
	views map[int64]memoryEntry
	rates map[int64]*rateWindow
	ttl   time.Duration
}

type memoryEntry struct {
	view      *models.BookingView
	expiresAt time.Time
}

type rateWindow struct {
	count    int
	resetsAt time.Time
}

func NewMemoryViewRepository(ttl time.Duration) *MemoryViewRepository {
	return &MemoryViewRepository{
		views: make(map[int64]memoryEntry),
		rates: make(map[int64]*rateWindow),
		ttl:   ttl,
	}
}

func (r *MemoryViewRepository) GetView(_ context.Context, bookingID int64) (*models.BookingView, error) {
	r.mu.RLock()
	entry, ok := r.views[bookingID]
	r.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.view, nil
}

func (r *MemoryViewRepository) SetView(_ context.Context, view *models.BookingView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[view.Booking.ID] = memoryEntry{view: view, expiresAt: time.Now().Add(r.ttl)}
	return nil
}

func (r *MemoryViewRepository) Invalidate(_ context.Context, bookingID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, bookingID)
	return nil
}

func (r *MemoryViewRepository) CheckRateLimit(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, ok := r.rates[userID]
	if !ok || now.After(w.resetsAt) {
		r.rates[userID] = &rateWindow{count: 1, resetsAt: now.Add(window)}
		return true, nil
	}
	w.count++
	return w.count <= limit, nil
}
