package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/domain"
)

type IdempotencyOption func(*IdempotencyStore)

// latest 没有分页游标时的上界
var latest = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func WithRetention(d time.Duration) IdempotencyOption {
	return func(s *IdempotencyStore) { s.retention = d }
}

// WithPollInterval Await 轮询记录的间隔
func WithPollInterval(d time.Duration) IdempotencyOption {
	return func(s *IdempotencyStore) { s.pollInterval = d }
}

func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(s *IdempotencyStore) { s.now = now }
}

// IdempotencyStore 保证同一个幂等 key 只有一次 saga 执行，且只有一个终态结果。
type IdempotencyStore struct {
	repo         domain.SagaRecordRepository
	retention    time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

func NewIdempotencyStore(repo domain.SagaRecordRepository, opts ...IdempotencyOption) *IdempotencyStore {
	s := &IdempotencyStore{
		repo:         repo,
		retention:    24 * time.Hour,
		pollInterval: 50 * time.Millisecond,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin 插入 PENDING 记录。created=false 时返回已存在的记录（可能仍是 PENDING）。
// fingerprint 不同说明同一个 key 被用于不同的请求，返回 ErrIdempotencyConflict。
func (s *IdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (domain.SagaRecord, bool, error) {
	if key == "" {
		return domain.SagaRecord{}, false, domain.ErrInvalidIdempotencyKey
	}
	rec := domain.SagaRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      domain.SagaPending,
		CreatedAt:   s.now(),
	}

	// 插入失败后记录可能恰好被清理，重试一次
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.repo.Insert(ctx, rec)
		if err != nil {
			return domain.SagaRecord{}, false, fmt.Errorf("begin %s: %w", key, err)
		}
		if created {
			return rec, true, nil
		}

		existing, err := s.repo.Get(ctx, key)
		if errors.Is(err, domain.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return domain.SagaRecord{}, false, fmt.Errorf("begin %s: %w", key, err)
		}
		if fingerprint != "" && existing.Fingerprint != "" && existing.Fingerprint != fingerprint {
			return existing, false, domain.ErrIdempotencyConflict
		}
		return existing, false, nil
	}
	return domain.SagaRecord{}, false, fmt.Errorf("begin %s: record vanished during insert race", key)
}

// AttachHold 记录 saga 占用的 hold，供崩溃恢复使用。记录已是终态时返回 false。
func (s *IdempotencyStore) AttachHold(ctx context.Context, key, holdID string) (bool, error) {
	ok, err := s.repo.AttachHold(ctx, key, holdID)
	if err != nil {
		return false, fmt.Errorf("attach hold to %s: %w", key, err)
	}
	return ok, nil
}

// Finish 写入终态。记录已是终态时不做修改，返回最初的结果。
func (s *IdempotencyStore) Finish(ctx context.Context, key string, outcome domain.Outcome) (domain.SagaRecord, error) {
	if !outcome.Status.IsTerminal() {
		return domain.SagaRecord{}, fmt.Errorf("finish %s: status %s is not terminal", key, outcome.Status)
	}
	won, err := s.repo.Finalize(ctx, key, outcome, s.now())
	if err != nil {
		return domain.SagaRecord{}, fmt.Errorf("finish %s: %w", key, err)
	}
	rec, err := s.repo.Get(ctx, key)
	if err != nil {
		return domain.SagaRecord{}, fmt.Errorf("finish %s: %w", key, err)
	}
	if !won && rec.Outcome() != outcome {
		logger.Ctx(ctx).Warn().Str("idempotency_key", key).
			Str("kept", string(rec.Status)+"/"+string(rec.Reason)).
			Str("dropped", string(outcome.Status)+"/"+string(outcome.Reason)).
			Msg("Saga record already terminal, later outcome ignored")
	}
	return rec, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (domain.SagaRecord, error) {
	return s.repo.Get(ctx, key)
}

// Await 等待另一个请求正在执行的 saga 结束。超时仍为 PENDING 时返回 ErrBookingInProgress。
func (s *IdempotencyStore) Await(ctx context.Context, key string, timeout time.Duration) (domain.SagaRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.repo.Get(ctx, key)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return domain.SagaRecord{}, err
		}
		if err == nil && rec.Status.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return rec, domain.ErrBookingInProgress
		}
	}
}

// ListPending 返回创建时间早于 olderThan 的 PENDING 记录
func (s *IdempotencyStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	return s.repo.ListPending(ctx, olderThan, limit)
}

// ListFinished 分页列出已结束的预订，before 为零值时从最新的开始
func (s *IdempotencyStore) ListFinished(ctx context.Context, before time.Time, limit int) ([]domain.SagaRecord, error) {
	if before.IsZero() {
		before = latest
	}
	recs, err := s.repo.ListFinished(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list finished bookings: %w", err)
	}
	return recs, nil
}

// Purge 删除保留期之外的终态记录
func (s *IdempotencyStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.DeleteFinishedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	if n > 0 {
		metrics.RecordsPurged.Add(float64(n))
		logger.Ctx(ctx).Info().Int64("purged", n).Msg("Purged expired idempotency records")
	}
	return n, nil
}
