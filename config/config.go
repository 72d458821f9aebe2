// Package config loads process configuration from defaults, an optional
// YAML file, ORDERPIPE_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "ORDERPIPE"

type Redis struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type Store struct {
	Backend   string // redis or pebble
	PebbleDir string
	Timeout   time.Duration
}

type Orders struct {
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
}

type Notifications struct {
	TTL           time.Duration
	RetryInterval time.Duration
}

type Kafka struct {
	Brokers               []string
	OrdersTopic           string
	InventoryResultsTopic string
	InventoryGroup        string
	OrdersGroup           string
	NotificationsGroup    string
	MaxRetries            uint64
}

type Outbox struct {
	Dir        string // empty publishes straight to Kafka
	Interval   time.Duration
	MaxRetries uint32
}

type Config struct {
	Redis         Redis
	Store         Store
	Orders        Orders
	Notifications Notifications
	Kafka         Kafka
	Outbox        Outbox
	HTTPAddr      string
	GRPCAddr      string
	MetricsAddr   string
	LogLevel      string
	LogFormat     string
}

// SetDefaults installs every key with its default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.pebble_dir", "")
	v.SetDefault("store.timeout", 2*time.Second)

	v.SetDefault("orders.ttl", 30*time.Minute)
	v.SetDefault("orders.retry_interval", 15*time.Second)
	v.SetDefault("orders.key_prefix", "order:")

	v.SetDefault("notifications.ttl", 5*time.Minute)
	v.SetDefault("notifications.retry_interval", 15*time.Second)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.orders", "orders")
	v.SetDefault("kafka.topics.inventory_results", "inventory-results")
	v.SetDefault("kafka.groups.inventory", "inventory-service")
	v.SetDefault("kafka.groups.orders", "order-service")
	v.SetDefault("kafka.groups.notifications", "notification-service")
	v.SetDefault("kafka.max_retries", 3)

	v.SetDefault("outbox.dir", "")
	v.SetDefault("outbox.interval", 250*time.Millisecond)
	v.SetDefault("outbox.max_retries", 5)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// BindFlags registers the command-line overrides on fs and binds them
// into v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("config", "", "path to a YAML config file")
	fs.String("redis-addr", "", "redis address")
	fs.String("store-backend", "", "remote store backend (redis|pebble)")
	fs.StringSlice("kafka-brokers", nil, "kafka bootstrap brokers")
	fs.String("http-addr", "", "REST listen address")
	fs.String("grpc-addr", "", "gRPC listen address")
	fs.String("metrics-addr", "", "Prometheus listen address")
	fs.String("log-level", "", "debug, info, warn or error")

	bindings := map[string]string{
		"config":        "config",
		"redis-addr":    "redis.addr",
		"store-backend": "store.backend",
		"kafka-brokers": "kafka.brokers",
		"http-addr":     "http.addr",
		"grpc-addr":     "grpc.addr",
		"metrics-addr":  "metrics.addr",
		"log-level":     "log.level",
	}
	for flag, key := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and env overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file named by the "config" key and
// resolves the final configuration.
func Load(v *viper.Viper) (Config, error) {
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
		},
		Store: Store{
			Backend:   strings.ToLower(strings.TrimSpace(v.GetString("store.backend"))),
			PebbleDir: v.GetString("store.pebble_dir"),
			Timeout:   v.GetDuration("store.timeout"),
		},
		Orders: Orders{
			TTL:           v.GetDuration("orders.ttl"),
			RetryInterval: v.GetDuration("orders.retry_interval"),
			KeyPrefix:     v.GetString("orders.key_prefix"),
		},
		Notifications: Notifications{
			TTL:           v.GetDuration("notifications.ttl"),
			RetryInterval: v.GetDuration("notifications.retry_interval"),
		},
		Kafka: Kafka{
			Brokers:               v.GetStringSlice("kafka.brokers"),
			OrdersTopic:           v.GetString("kafka.topics.orders"),
			InventoryResultsTopic: v.GetString("kafka.topics.inventory_results"),
			InventoryGroup:        v.GetString("kafka.groups.inventory"),
			OrdersGroup:           v.GetString("kafka.groups.orders"),
			NotificationsGroup:    v.GetString("kafka.groups.notifications"),
			MaxRetries:            v.GetUint64("kafka.max_retries"),
		},
		Outbox: Outbox{
			Dir:        v.GetString("outbox.dir"),
			Interval:   v.GetDuration("outbox.interval"),
			MaxRetries: v.GetUint32("outbox.max_retries"),
		},
		HTTPAddr:    v.GetString("http.addr"),
		GRPCAddr:    v.GetString("grpc.addr"),
		MetricsAddr: v.GetString("metrics.addr"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis backend"))
		}
	case "pebble":
		if c.Store.PebbleDir == "" {
			errs = append(errs, errors.New("store.pebble_dir is required for the pebble backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want redis or pebble", c.Store.Backend))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must not be empty"))
	}
	if c.Orders.TTL <= 0 || c.Notifications.TTL <= 0 {
		errs = append(errs, errors.New("ttl values must be positive"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}
	return errors.Join(errs...)
}
