package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"boxoffice/internal/service/booking/application"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/infrastructure/storetest"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGormLedgerStore(t *testing.T) {
	storetest.LedgerStore(t, func(t *testing.T) domain.LedgerStore { return NewGormLedgerStore(newTestDB(t)) })
}

func TestGormHoldRepository(t *testing.T) {
	storetest.HoldRepository(t, func(t *testing.T) domain.HoldRepository { return NewGormHoldRepository(newTestDB(t)) })
}

func TestGormSagaRecordRepository(t *testing.T) {
	storetest.SagaRecordRepository(t, func(t *testing.T) domain.SagaRecordRepository {
		return NewGormSagaRecordRepository(newTestDB(t))
	})
}

func TestTransactorRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := NewGormLedgerStore(db)
	tx := NewTransactor(db)
	require.NoError(t, store.Create(ctx, domain.LedgerEntry{EventID: "e1", TotalCapacity: 10}))

	boom := fmt.Errorf("boom")
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := store.TryHold(ctx, "e1", 4)
		require.NoError(t, err)
		require.True(t, ok)
		// 嵌套调用复用外层事务
		return tx.WithinTx(ctx, func(ctx context.Context) error { return boom })
	})
	assert.ErrorIs(t, err, boom)

	e, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, e.Held)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestReservationManagerOnSQLite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := &clock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}

	ledger := application.NewInventoryLedger(NewGormLedgerStore(db))
	holds := NewGormHoldRepository(db)
	mgr := application.NewReservationManager(ledger, holds,
		application.WithClock(now.Now),
		application.WithTransactor(NewTransactor(db)),
	)
	_, err := ledger.Open(ctx, "e1", 10, 3000)
	require.NoError(t, err)

	h1, err := mgr.Reserve(ctx, "e1", 3, time.Minute)
	require.NoError(t, err)
	h2, err := mgr.Reserve(ctx, "e1", 2, time.Minute)
	require.NoError(t, err)

	confirmed, err := mgr.ConfirmHold(ctx, h1.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.HoldConfirmed, confirmed.State)
	assert.NotEmpty(t, confirmed.BookingID)

	now.t = now.t.Add(2 * time.Minute)
	expired, err := mgr.ExpireDue(ctx, now.t, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, h2.ID, expired[0].ID)

	snap, err := ledger.Snapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Confirmed)
	assert.Equal(t, 0, snap.Held)
	assert.Equal(t, 7, snap.Available)
}

func TestLedgerMismatchRollsBackHoldAndQuarantines(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ledger := application.NewInventoryLedger(NewGormLedgerStore(db))
	holds := NewGormHoldRepository(db)
	mgr := application.NewReservationManager(ledger, holds, application.WithTransactor(NewTransactor(db)))
	_, err := ledger.Open(ctx, "e1", 10, 3000)
	require.NoError(t, err)

	hold, err := mgr.Reserve(ctx, "e1", 3, time.Hour)
	require.NoError(t, err)

	// 绕过账本把 held 清零，模拟不一致
	require.NoError(t, db.Model(&LedgerModel{}).Where("event_id = ?", "e1").Update("held", 0).Error)

	_, err = mgr.ConfirmHold(ctx, hold.ID, "b-1")
	assert.ErrorIs(t, err, domain.ErrLedgerMismatch)

	got, err := holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldActive, got.State, "hold transition rolled back with the ledger update")

	snap, err := ledger.Snapshot(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, snap.Quarantined)
}

// crashingHoldRepository 在写 hold 时中断，模拟进程在占座之后、写 hold 之前退出
type crashingHoldRepository struct {
	*GormHoldRepository
	panicOnCreate bool
}

func (r crashingHoldRepository) Create(ctx context.Context, hold domain.Hold) error {
	if r.panicOnCreate {
		panic("process killed")
	}
	return fmt.Errorf("create hold %s: connection reset", hold.ID)
}

func TestReserveRollsBackSeatsWhenHoldInsertDies(t *testing.T) {
	for _, tc := range []struct {
		name  string
		crash bool
	}{
		{"insert error", false},
		{"crash mid transaction", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			ctx := context.Background()

			ledger := application.NewInventoryLedger(NewGormLedgerStore(db))
			holds := crashingHoldRepository{GormHoldRepository: NewGormHoldRepository(db), panicOnCreate: tc.crash}
			mgr := application.NewReservationManager(ledger, holds, application.WithTransactor(NewTransactor(db)))
			_, err := ledger.Open(ctx, "e1", 10, 3000)
			require.NoError(t, err)

			if tc.crash {
				assert.Panics(t, func() { _, _ = mgr.Reserve(ctx, "e1", 4, time.Minute) })
			} else {
				_, err = mgr.Reserve(ctx, "e1", 4, time.Minute)
				require.Error(t, err)
			}

			snap, err := ledger.Snapshot(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, 0, snap.Held)
			assert.Equal(t, 10, snap.Available)

			var count int64
			require.NoError(t, db.Model(&HoldModel{}).Count(&count).Error)
			assert.Zero(t, count)
		})
	}
}
