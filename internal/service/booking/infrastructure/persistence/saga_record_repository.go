package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"boxoffice/internal/service/booking/domain"
)

// GormSagaRecordRepository 幂等记录。插入依赖主键冲突实现 insert-if-absent。
type GormSagaRecordRepository struct {
	db *gorm.DB
}

func NewGormSagaRecordRepository(db *gorm.DB) *GormSagaRecordRepository {
	return &GormSagaRecordRepository{db: db}
}

func (r *GormSagaRecordRepository) Insert(ctx context.Context, rec domain.SagaRecord) (bool, error) {
	err := conn(ctx, r.db).Create(fromDomainSagaRecord(rec)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, errors.Wrapf(err, "insert saga record %s", rec.Key)
	}
	return true, nil
}

func (r *GormSagaRecordRepository) Get(ctx context.Context, key string) (domain.SagaRecord, error) {
	var model SagaRecordModel
	if err := conn(ctx, r.db).Where("idempotency_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SagaRecord{}, domain.ErrRecordNotFound
		}
		return domain.SagaRecord{}, errors.Wrapf(err, "get saga record %s", key)
	}
	return toDomainSagaRecord(&model), nil
}

func (r *GormSagaRecordRepository) AttachHold(ctx context.Context, key, holdID string) (bool, error) {
	res := conn(ctx, r.db).Model(&SagaRecordModel{}).
		Where("idempotency_key = ? AND status = ?", key, string(domain.SagaPending)).
		Update("hold_id", holdID)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "attach hold to %s", key)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormSagaRecordRepository) Finalize(ctx context.Context, key string, outcome domain.Outcome, at time.Time) (bool, error) {
	res := conn(ctx, r.db).Model(&SagaRecordModel{}).
		Where("idempotency_key = ? AND status = ?", key, string(domain.SagaPending)).
		Updates(map[string]interface{}{
			"status":      string(outcome.Status),
			"booking_id":  outcome.BookingID,
			"reason":      string(outcome.Reason),
			"finished_at": at.UTC(),
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "finalize saga record %s", key)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormSagaRecordRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	var models []*SagaRecordModel
	q := conn(ctx, r.db).Where("status = ? AND created_at <= ?", string(domain.SagaPending), olderThan.UTC()).Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list pending saga records")
	}
	recs := make([]domain.SagaRecord, len(models))
	for i, m := range models {
		recs[i] = toDomainSagaRecord(m)
	}
	return recs, nil
}

func (r *GormSagaRecordRepository) ListFinished(ctx context.Context, before time.Time, limit int) ([]domain.SagaRecord, error) {
	var models []*SagaRecordModel
	q := conn(ctx, r.db).
		Where("status <> ? AND finished_at < ?", string(domain.SagaPending), before.UTC()).
		Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list finished saga records")
	}
	recs := make([]domain.SagaRecord, len(models))
	for i, m := range models {
		recs[i] = toDomainSagaRecord(m)
	}
	return recs, nil
}

func (r *GormSagaRecordRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := conn(ctx, r.db).
		Where("status <> ? AND finished_at < ?", string(domain.SagaPending), before.UTC()).
		Delete(&SagaRecordModel{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "purge saga records")
	}
	return res.RowsAffected, nil
}
