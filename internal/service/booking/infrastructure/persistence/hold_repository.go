package persistence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"boxoffice/internal/service/booking/domain"
)

type GormHoldRepository struct {
	db *gorm.DB
}

func NewGormHoldRepository(db *gorm.DB) *GormHoldRepository {
	return &GormHoldRepository{db: db}
}

func (r *GormHoldRepository) Create(ctx context.Context, hold domain.Hold) error {
	return errors.Wrapf(conn(ctx, r.db).Create(fromDomainHold(hold)).Error, "create hold %s", hold.ID)
}

func (r *GormHoldRepository) Get(ctx context.Context, id string) (domain.Hold, error) {
	var model HoldModel
	if err := conn(ctx, r.db).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, errors.Wrapf(err, "get hold %s", id)
	}
	return toDomainHold(&model), nil
}

// Transition UPDATE holds SET state = to WHERE id = ? AND state = from
func (r *GormHoldRepository) Transition(ctx context.Context, id string, from, to domain.HoldState, bookingID string, at time.Time) (bool, error) {
	res := conn(ctx, r.db).Model(&HoldModel{}).
		Where("id = ? AND state = ?", id, string(from)).
		Updates(map[string]interface{}{
			"state":      string(to),
			"booking_id": bookingID,
			"updated_at": at.UTC(),
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "transition hold %s %s->%s", id, from, to)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormHoldRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	var models []*HoldModel
	q := conn(ctx, r.db).Where("state = ? AND expires_at <= ?", string(domain.HoldActive), now.UTC()).Order("expires_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list expired holds")
	}
	holds := make([]domain.Hold, len(models))
	for i, m := range models {
		holds[i] = toDomainHold(m)
	}
	return holds, nil
}
