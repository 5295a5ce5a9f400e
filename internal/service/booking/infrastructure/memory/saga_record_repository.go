package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"boxoffice/internal/service/booking/domain"
)

type SagaRecordRepository struct {
	mu      sync.Mutex
	records map[string]domain.SagaRecord
}

func NewSagaRecordRepository() *SagaRecordRepository {
	return &SagaRecordRepository{records: make(map[string]domain.SagaRecord)}
}

func (r *SagaRecordRepository) Insert(_ context.Context, rec domain.SagaRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Key]; ok {
		return false, nil
	}
	r.records[rec.Key] = rec
	return true, nil
}

func (r *SagaRecordRepository) Get(_ context.Context, key string) (domain.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.SagaRecord{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (r *SagaRecordRepository) AttachHold(_ context.Context, key, holdID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.Status != domain.SagaPending {
		return false, nil
	}
	rec.HoldID = holdID
	r.records[key] = rec
	return true, nil
}

func (r *SagaRecordRepository) Finalize(_ context.Context, key string, outcome domain.Outcome, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.Status != domain.SagaPending {
		return false, nil
	}
	rec.Status = outcome.Status
	rec.BookingID = outcome.BookingID
	rec.Reason = outcome.Reason
	rec.FinishedAt = at
	r.records[key] = rec
	return true, nil
}

func (r *SagaRecordRepository) ListPending(_ context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SagaRecord
	for _, rec := range r.records {
		if rec.Status == domain.SagaPending && !rec.CreatedAt.After(olderThan) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SagaRecordRepository) ListFinished(_ context.Context, before time.Time, limit int) ([]domain.SagaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SagaRecord
	for _, rec := range r.records {
		if rec.Status.IsTerminal() && rec.FinishedAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SagaRecordRepository) DeleteFinishedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, rec := range r.records {
		if rec.Status.IsTerminal() && rec.FinishedAt.Before(before) {
			delete(r.records, key)
			n++
		}
	}
	return n, nil
}
