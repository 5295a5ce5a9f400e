package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"boxoffice/internal/pkg/bootstrap"
	"boxoffice/internal/pkg/httpclient"
	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/redis"
	"boxoffice/internal/service/booking/application"
	"boxoffice/internal/service/booking/application/saga"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
	"boxoffice/internal/service/booking/infrastructure/adapter"
	"boxoffice/internal/service/booking/infrastructure/memory"
	"boxoffice/internal/service/booking/infrastructure/persistence"
	"boxoffice/internal/service/booking/infrastructure/policy"
	"boxoffice/internal/service/booking/infrastructure/redisstore"
	"boxoffice/internal/service/booking/interfaces"
	"boxoffice/internal/zookeeper"
)

// stores 按配置选出的存储实现
type stores struct {
	ledger  domain.LedgerStore
	holds   domain.HoldRepository
	records domain.SagaRecordRepository
	tx      domain.Transactor
}

func wire(app *bootstrap.AppCtx) error {
	cfg := app.Config
	ctx := context.Background()
	tracer := otel.Tracer(cfg.Service.Name)

	st, err := openStores(ctx, app)
	if err != nil {
		return err
	}

	locker, err := newLocker(ctx, app)
	if err != nil {
		return err
	}

	ledger := application.NewInventoryLedger(st.ledger)
	resOpts := []application.ReservationOption{
		application.WithTransactor(st.tx),
		application.WithHoldLocker(locker),
	}
	sagaOpts := []saga.Option{
		saga.WithHoldTTL(cfg.Saga.HoldTTL),
		saga.WithChargePolicy(cfg.Saga.ChargeTimeout, cfg.Saga.ChargeAttempts, cfg.Saga.ChargeBackoff),
		saga.WithAwaitTimeout(cfg.Saga.AwaitTimeout),
		saga.WithTracer(tracer),
	}

	var scheduler *adapter.SchedulerKafkaAdapter
	if cfg.Kafka.Enabled() {
		scheduler = adapter.NewSchedulerKafkaAdapter(cfg.Kafka.Brokers, cfg.Kafka.ExpiryTopic)
		app.OnShutdown(func(context.Context) error { return scheduler.Close() })
		resOpts = append(resOpts, application.WithExpiryScheduler(scheduler))

		notifier := adapter.NewNotificationKafkaAdapter(cfg.Kafka.Brokers, cfg.Kafka.OutcomeTopic)
		app.OnShutdown(func(context.Context) error { return notifier.Close() })
		sagaOpts = append(sagaOpts, saga.WithNotifier(notifier))
	}

	if cfg.Policy.Expression != "" {
		p, err := policy.NewCELPolicy(cfg.Policy.Expression)
		if err != nil {
			return err
		}
		sagaOpts = append(sagaOpts, saga.WithAdmissionPolicy(p))
	}

	reservations := application.NewReservationManager(ledger, st.holds, resOpts...)
	idem := application.NewIdempotencyStore(st.records,
		application.WithRetention(cfg.Idempotency.Retention),
		application.WithPollInterval(cfg.Idempotency.PollInterval),
	)

	// 配置了 nacos 时通过服务发现找支付服务
	var resolver httpclient.Resolver = httpclient.StaticResolver(cfg.Payment.URL)
	if app.Nacos != nil {
		resolver = app.Nacos
	}
	payments := adapter.NewPaymentHTTPAdapter(httpclient.NewClient(tracer, resolver), cfg.Payment.Service)

	bookingSaga := saga.NewBookingSaga(reservations, payments, idem, sagaOpts...)
	interfaces.NewBookingHandler(bookingSaga, ledger, idem).RegisterRoutes(app.Mux)

	recovery := application.NewRecovery(idem, reservations, cfg.Sweeper.RecoveryGrace, nil)
	sweeper := application.NewSweeper(reservations, recovery, idem, cfg.Sweeper.Interval, cfg.Sweeper.Batch)
	app.Go(sweeper.Start)

	if scheduler != nil {
		consumer := interfaces.NewHoldExpiryConsumer(cfg.Kafka.Brokers, cfg.Kafka.ExpiryTopic, cfg.Kafka.ExpiryGroupID, reservations, scheduler)
		app.Go(consumer.Start)
	}

	logger.Ctx(ctx).Info().
		Str("storage", cfg.Storage.Driver).
		Str("ledger", cfg.Ledger.Driver).
		Str("idempotency", cfg.Idempotency.Driver).
		Bool("kafka", cfg.Kafka.Enabled()).
		Bool("zookeeper", len(cfg.ZooKeeper.Servers) > 0).
		Msg("Booking service wired")
	return nil
}

func openStores(ctx context.Context, app *bootstrap.AppCtx) (stores, error) {
	cfg := app.Config

	var db *gorm.DB
	var err error
	switch cfg.Storage.Driver {
	case bootstrap.DriverMySQL:
		db, err = persistence.OpenMySQL(cfg.MySQL)
	case bootstrap.DriverSQLite:
		db, err = persistence.OpenSQLite(cfg.SQLite.Path)
	}
	if err != nil {
		return stores{}, err
	}

	st := stores{
		ledger:  memory.NewLedgerStore(),
		holds:   memory.NewHoldRepository(),
		records: memory.NewSagaRecordRepository(),
		tx:      domain.NoopTransactor{},
	}
	if db != nil {
		app.OnShutdown(func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		if cfg.Storage.AutoMigrate {
			if err := persistence.AutoMigrate(ctx, db); err != nil {
				return stores{}, err
			}
		}
		st.ledger = persistence.NewGormLedgerStore(db)
		st.holds = persistence.NewGormHoldRepository(db)
		st.records = persistence.NewGormSagaRecordRepository(db)
		st.tx = persistence.NewTransactor(db)
	}

	if cfg.Ledger.Driver != bootstrap.DriverRedis && cfg.Idempotency.Driver != bootstrap.DriverRedis {
		return st, nil
	}
	rc, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return stores{}, fmt.Errorf("init redis client: %w", err)
	}
	app.OnShutdown(func(context.Context) error { return rc.Close() })

	if cfg.Ledger.Driver == bootstrap.DriverRedis {
		if st.ledger, err = redisstore.NewLedgerStore(rc); err != nil {
			return stores{}, err
		}
	}
	if cfg.Idempotency.Driver == bootstrap.DriverRedis {
		if st.records, err = redisstore.NewSagaRecordRepository(rc); err != nil {
			return stores{}, err
		}
	}
	return st, nil
}

// newLocker 未配置 zookeeper 时只在进程内加锁
func newLocker(ctx context.Context, app *bootstrap.AppCtx) (port.HoldLocker, error) {
	cfg := app.Config.ZooKeeper
	if len(cfg.Servers) == 0 {
		return adapter.NewLocalLocker(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.SessionTimeout*2)
	defer cancel()
	conn, err := zookeeper.Connect(connectCtx, cfg.Servers, cfg.SessionTimeout)
	if err != nil {
		return nil, err
	}
	app.OnShutdown(func(context.Context) error {
		conn.Close()
		return nil
	})
	return adapter.NewZooKeeperLocker(conn, cfg.LockTimeout), nil
}
