// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Ledger      DriverConfig      `yaml:"ledger"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ZooKeeper   ZooKeeperConfig   `yaml:"zookeeper"`
	Nacos       NacosConfig       `yaml:"nacos"`
	Jaeger      JaegerConfig      `yaml:"jaeger"`
	Saga        SagaConfig        `yaml:"saga"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
	Payment     PaymentConfig     `yaml:"payment"`
	Policy      PolicyConfig      `yaml:"policy"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

const (
	DriverMemory  = "memory"
	DriverMySQL   = "mysql"
	DriverSQLite  = "sqlite"
	DriverStorage = "storage"
	DriverRedis   = "redis"
)

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type DriverConfig struct {
	Driver string `yaml:"driver"`
}

type IdempotencyConfig struct {
	Driver       string        `yaml:"driver"`
	Retention    time.Duration `yaml:"retention"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SQLiteConfig 单机部署时使用的本地数据库文件
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	OutcomeTopic  string   `yaml:"outcome_topic"`
	ExpiryTopic   string   `yaml:"expiry_topic"`
	ExpiryGroupID string   `yaml:"expiry_group_id"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

type NacosConfig struct {
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type SagaConfig struct {
	HoldTTL        time.Duration `yaml:"hold_ttl"`
	ChargeTimeout  time.Duration `yaml:"charge_timeout"`
	ChargeAttempts int           `yaml:"charge_attempts"`
	ChargeBackoff  time.Duration `yaml:"charge_backoff"`
	AwaitTimeout   time.Duration `yaml:"await_timeout"`
}

type SweeperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Batch         int           `yaml:"batch"`
	RecoveryGrace time.Duration `yaml:"recovery_grace"`
}

// PaymentConfig url/service 供 booking-service 调用；其余字段只有 payment-service 使用，用于故障注入
type PaymentConfig struct {
	URL             string        `yaml:"url"`
	Service         string        `yaml:"service"`
	DeclineRate     float64       `yaml:"decline_rate"`
	UnavailableRate float64       `yaml:"unavailable_rate"`
	Latency         time.Duration `yaml:"latency"`
	MaxAmountCents  int64         `yaml:"max_amount_cents"`
}

type PolicyConfig struct {
	Expression string `yaml:"expression"`
}

// Default 每个字段都有可用的默认值，空配置文件即可在本地启动
func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "booking-service", Port: 8080, ShutdownTimeout: 10 * time.Second},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{Driver: DriverMemory},
		Ledger:  DriverConfig{Driver: DriverStorage},
		Idempotency: IdempotencyConfig{
			Driver:       DriverStorage,
			Retention:    24 * time.Hour,
			PollInterval: 50 * time.Millisecond,
		},
		MySQL: MySQLConfig{
			Host: "localhost", Port: 3306, User: "root", Database: "boxoffice",
			MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: time.Hour,
		},
		SQLite: SQLiteConfig{Path: "boxoffice.db"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			OutcomeTopic:  "booking-outcomes",
			ExpiryTopic:   "hold-expiry-check-topic",
			ExpiryGroupID: "hold-expiry-consumer-group",
		},
		ZooKeeper: ZooKeeperConfig{SessionTimeout: 5 * time.Second, LockTimeout: 10 * time.Second},
		Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		Jaeger:    JaegerConfig{SampleRatio: 1},
		Saga: SagaConfig{
			HoldTTL:        10 * time.Minute,
			ChargeTimeout:  5 * time.Second,
			ChargeAttempts: 3,
			ChargeBackoff:  200 * time.Millisecond,
			AwaitTimeout:   10 * time.Second,
		},
		Sweeper: SweeperConfig{Interval: 30 * time.Second, Batch: 100, RecoveryGrace: time.Minute},
		Payment: PaymentConfig{URL: "http://localhost:8090", Service: "payment-service"},
		Policy:  PolicyConfig{Expression: "seats > 0 && seats <= 10"},
	}
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回最近一次 Load 的结果，未加载时返回默认值
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	d := Default()
	return &d
}

// Load 默认值 -> YAML 文件 -> 环境变量，依次覆盖。path 为空时跳过文件。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	current.Store(&cfg)
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Errorf("service.port %d out of range", c.Service.Port))
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverMySQL, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory, mysql or sqlite, got %q", c.Storage.Driver))
	}
	for name, d := range map[string]string{"ledger.driver": c.Ledger.Driver, "idempotency.driver": c.Idempotency.Driver} {
		if d != DriverStorage && d != DriverRedis {
			errs = append(errs, fmt.Errorf("%s must be storage or redis, got %q", name, d))
		}
	}
	if c.Saga.HoldTTL <= 0 {
		errs = append(errs, errors.New("saga.hold_ttl must be positive"))
	}
	if c.Saga.ChargeTimeout <= 0 {
		errs = append(errs, errors.New("saga.charge_timeout must be positive"))
	}
	// 支付超时必须远小于 hold 的有效期，否则支付成功时 hold 可能已过期
	if c.Saga.ChargeTimeout*time.Duration(max(c.Saga.ChargeAttempts, 1)) >= c.Saga.HoldTTL {
		errs = append(errs, errors.New("saga.charge_timeout * saga.charge_attempts must be shorter than saga.hold_ttl"))
	}
	if c.Saga.ChargeAttempts < 1 {
		errs = append(errs, errors.New("saga.charge_attempts must be at least 1"))
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.Batch <= 0 {
		errs = append(errs, errors.New("sweeper.interval and sweeper.batch must be positive"))
	}
	if c.Idempotency.Retention <= 0 {
		errs = append(errs, errors.New("idempotency.retention must be positive"))
	}
	if c.Idempotency.PollInterval <= 0 {
		errs = append(errs, errors.New("idempotency.poll_interval must be positive"))
	}
	if c.Payment.DeclineRate < 0 || c.Payment.UnavailableRate < 0 || c.Payment.DeclineRate+c.Payment.UnavailableRate > 1 {
		errs = append(errs, errors.New("payment.decline_rate and payment.unavailable_rate must be non-negative and sum to at most 1"))
	}
	return errors.Join(errs...)
}

// applyEnv 与部署脚本约定的环境变量
func applyEnv(c *Config) error {
	setString(&c.Service.Name, "SERVICE_NAME")
	if err := setInt(&c.Service.Port, "SERVICE_PORT"); err != nil {
		return err
	}
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Ledger.Driver, "LEDGER_DRIVER")
	setString(&c.Idempotency.Driver, "IDEMPOTENCY_DRIVER")
	setString(&c.MySQL.Host, "MYSQL_HOST")
	if err := setInt(&c.MySQL.Port, "MYSQL_PORT"); err != nil {
		return err
	}
	setString(&c.MySQL.User, "MYSQL_USER")
	setString(&c.MySQL.Password, "MYSQL_PASSWORD")
	setString(&c.MySQL.Database, "MYSQL_DATABASE")
	setString(&c.SQLite.Path, "SQLITE_PATH")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setList(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setList(&c.ZooKeeper.Servers, "ZOOKEEPER_SERVERS")
	setString(&c.Nacos.Addrs, "NACOS_SERVER_ADDRS")
	setString(&c.Nacos.Namespace, "NACOS_NAMESPACE")
	setString(&c.Nacos.Group, "NACOS_GROUP")
	setString(&c.Jaeger.Endpoint, "JAEGER_ENDPOINT")
	setString(&c.Payment.URL, "PAYMENT_URL")
	setString(&c.Policy.Expression, "POLICY_EXPRESSION")
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
