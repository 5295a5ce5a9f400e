package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"boxoffice/internal/service/booking/domain"
)

type HoldRepository struct {
	mu    sync.Mutex
	holds map[string]domain.Hold
}

func NewHoldRepository() *HoldRepository {
	return &HoldRepository{holds: make(map[string]domain.Hold)}
}

func (r *HoldRepository) Create(_ context.Context, hold domain.Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holds[hold.ID] = hold
	return nil
}

func (r *HoldRepository) Get(_ context.Context, id string) (domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

func (r *HoldRepository) Transition(_ context.Context, id string, from, to domain.HoldState, bookingID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok || h.State != from {
		return false, nil
	}
	h.State = to
	h.BookingID = bookingID
	h.UpdatedAt = at
	r.holds[id] = h
	return true, nil
}

func (r *HoldRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Hold
	for _, h := range r.holds {
		if h.State == domain.HoldActive && h.ExpiredAt(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
