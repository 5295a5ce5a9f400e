package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "booking-service", cfg.Service.Name)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Saga.HoldTTL)
	assert.Equal(t, 3, cfg.Saga.ChargeAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.Retention)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "booking.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  port: 9000
storage:
  driver: mysql
saga:
  hold_ttl: 2m
  charge_timeout: 3s
sweeper:
  interval: 5s
kafka:
  brokers: ["k1:9092"]
`), 0o600))

	t.Setenv("SERVICE_PORT", "9100")
	t.Setenv("ZOOKEEPER_SERVERS", "zk1:2181, zk2:2181")
	t.Setenv("LEDGER_DRIVER", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Service.Port)
	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Equal(t, DriverRedis, cfg.Ledger.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Saga.HoldTTL)
	assert.Equal(t, 3*time.Second, cfg.Saga.ChargeTimeout)
	assert.Equal(t, 5*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.ZooKeeper.Servers)
	assert.True(t, cfg.Kafka.Enabled())
	// 文件中未出现的字段保留默认值
	assert.Equal(t, "booking-outcomes", cfg.Kafka.OutcomeTopic)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad storage driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"bad ledger driver", func(c *Config) { c.Ledger.Driver = "etcd" }},
		{"zero hold ttl", func(c *Config) { c.Saga.HoldTTL = 0 }},
		{"charge outlives hold", func(c *Config) { c.Saga.HoldTTL = 10 * time.Second }},
		{"no attempts", func(c *Config) { c.Saga.ChargeAttempts = 0 }},
		{"port", func(c *Config) { c.Service.Port = 70000 }},
		{"zero poll interval", func(c *Config) { c.Idempotency.PollInterval = 0 }},
		{"negative poll interval", func(c *Config) { c.Idempotency.PollInterval = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("SERVICE_PORT", "eighty")
	_, err := Load("")
	assert.Error(t, err)
}
