package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string   `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP     HTTP     `yaml:"http"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Outbox   Outbox   `yaml:"outbox"`
	Auth     Auth     `yaml:"auth"`
	Limiter  Limiter  `yaml:"limiter"`
	Tracing  Tracing  `yaml:"tracing"`
	Checkout Checkout `yaml:"checkout"`
}

type HTTP struct {
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	CheckoutTimeout time.Duration `yaml:"checkout_timeout" env:"CHECKOUT_TIMEOUT" env-default:"10s"`
}

type PG struct {
	URL            string `yaml:"url" env:"DB_URL"`
	MaxConns       int32  `yaml:"max_conns" env-default:"10"`
	MinConns       int32  `yaml:"min_conns" env-default:"2"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RunMigrations  bool   `yaml:"run_migrations" env:"RUN_MIGRATIONS" env-default:"true"`
}

type Redis struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CatalogTTL time.Duration `yaml:"catalog_ttl" env-default:"10m"`
}

type Kafka struct {
	Brokers      []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	OrderTopic   string   `yaml:"order_topic" env-default:"order_events"`
	CatalogTopic string   `yaml:"catalog_topic" env-default:"product_events"`
	GroupID      string   `yaml:"group_id" env-default:"checkout-service-group"`
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env-default:"50"`
	Interval    time.Duration `yaml:"interval" env-default:"500ms"`
	MaxAttempts int           `yaml:"max_attempts" env-default:"10"`
}

type Auth struct {
	AccessSecret string `yaml:"access_secret" env:"ACCESS_SECRET"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Tracing struct {
	Enabled     bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"true"`
	Endpoint    string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
	ServiceName string `yaml:"service_name" env-default:"checkout-service"`
}

type Checkout struct {
	// Upper bound on the number of distinct rows a cart may hold.
	MaxCartItems int `yaml:"max_cart_items" env-default:"200"`
}

func MustLoad() *Config {
	configPath := ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	return cfg
}

// Load reads path and applies env overrides and defaults on top of it.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	if cfg.Auth.AccessSecret == "" {
		return nil, errors.New("auth.access_secret (ACCESS_SECRET) is required")
	}

	return &cfg, nil
}

func ParseWithFallback(envName string, fallback string) string {
	result := os.Getenv(envName)
	if result == "" {
		result = fallback
	}

	return result
}
