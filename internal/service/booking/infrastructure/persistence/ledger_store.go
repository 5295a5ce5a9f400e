package persistence

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"boxoffice/internal/service/booking/domain"
)

// GormLedgerStore 每个操作都是一条带条件的 UPDATE，靠 RowsAffected 判断是否成功
type GormLedgerStore struct {
	db *gorm.DB
}

func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func (s *GormLedgerStore) Create(ctx context.Context, entry domain.LedgerEntry) error {
	err := conn(ctx, s.db).Create(fromDomainLedger(entry)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrEventExists
	}
	return errors.Wrapf(err, "create ledger %s", entry.EventID)
}

func (s *GormLedgerStore) Get(ctx context.Context, eventID string) (domain.LedgerEntry, error) {
	var model LedgerModel
	err := conn(ctx, s.db).Where("event_id = ?", eventID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LedgerEntry{}, domain.ErrEventNotFound
		}
		return domain.LedgerEntry{}, errors.Wrapf(err, "get ledger %s", eventID)
	}
	return toDomainLedger(&model), nil
}

func (s *GormLedgerStore) TryHold(ctx context.Context, eventID string, seats int) (bool, error) {
	res := conn(ctx, s.db).Model(&LedgerModel{}).
		Where("event_id = ? AND quarantined = ? AND confirmed + held + ? <= total_capacity", eventID, false, seats).
		Update("held", gorm.Expr("held + ?", seats))
	return res.RowsAffected == 1, errors.Wrapf(res.Error, "hold %d seats on %s", seats, eventID)
}

func (s *GormLedgerStore) ConfirmHeld(ctx context.Context, eventID string, seats int) (bool, error) {
	res := conn(ctx, s.db).Model(&LedgerModel{}).
		Where("event_id = ? AND held >= ?", eventID, seats).
		Updates(map[string]interface{}{
			"held":      gorm.Expr("held - ?", seats),
			"confirmed": gorm.Expr("confirmed + ?", seats),
		})
	return res.RowsAffected == 1, errors.Wrapf(res.Error, "confirm %d seats on %s", seats, eventID)
}

func (s *GormLedgerStore) ReleaseHeld(ctx context.Context, eventID string, seats int) (bool, error) {
	res := conn(ctx, s.db).Model(&LedgerModel{}).
		Where("event_id = ? AND held >= ?", eventID, seats).
		Update("held", gorm.Expr("held - ?", seats))
	return res.RowsAffected == 1, errors.Wrapf(res.Error, "release %d seats on %s", seats, eventID)
}

func (s *GormLedgerStore) Quarantine(ctx context.Context, eventID string) error {
	res := conn(ctx, s.db).Model(&LedgerModel{}).Where("event_id = ?", eventID).Update("quarantined", true)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "quarantine %s", eventID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
