package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Orders.TTL)
	assert.Equal(t, 15*time.Second, cfg.Orders.RetryInterval)
	assert.Equal(t, "order:", cfg.Orders.KeyPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Notifications.TTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "orders", cfg.Kafka.OrdersTopic)
	assert.Equal(t, "inventory-results", cfg.Kafka.InventoryResultsTopic)
	assert.Equal(t, uint32(5), cfg.Outbox.MaxRetries)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORDERPIPE_ORDERS_TTL", "10m")
	t.Setenv("ORDERPIPE_REDIS_ADDR", "redis:6380")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Orders.TTL)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orderpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: pebble
  pebble_dir: /var/lib/orderpipe
notifications:
  ttl: 1m
http:
  addr: ":9999"
`), 0o600))

	v := New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--config", path, "--http-addr", ":7000"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "pebble", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/orderpipe", cfg.Store.PebbleDir)
	assert.Equal(t, time.Minute, cfg.Notifications.TTL)
	assert.Equal(t, ":7000", cfg.HTTPAddr, "flags beat the file")
}

func TestValidate(t *testing.T) {
	v := New()
	v.Set("store.backend", "etcd")
	_, err := Load(v)
	assert.ErrorContains(t, err, "store.backend")

	v = New()
	v.Set("store.backend", "pebble")
	_, err = Load(v)
	assert.ErrorContains(t, err, "pebble_dir")
}
