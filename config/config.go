// Package config loads the paper-trading engine's configuration from the
// environment, the way the broker lineage this engine is drawn from always
// has: a flat struct, .env-friendly defaults, and a production-mode
// validation pass that fails fast on missing secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all engine configuration.
type Config struct {
	Environment string
	MetricsAddr string

	Database DatabaseConfig
	Redis    RedisConfig
	Feed     FeedConfig
	Trading  TradingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// OrdersQueueKey is read from ORDERS_QUEUE_KEY but is not passed to the
	// Redis cache: the queue worker BLPOPs from the cache's fixed
	// "<prefix>:orders_queue" list key ("paperfx:orders_queue" as wired in
	// cmd/server).
	OrdersQueueKey string
}

type FeedConfig struct {
	WSBaseURL          string
	RESTBaseURL        string
	Category           string
	ReconnectInterval  time.Duration
	SubscriberCapacity int
	HistoricalTimeout  time.Duration
}

// TradingConfig carries the fixed configuration named in spec §6. These are
// compile-time constants in the distilled spec; Load takes them from
// DefaultTradingConfig and lets only SupportedSymbols be overridden, through
// the SUPPORTED_SYMBOLS environment variable, in any environment.
type TradingConfig struct {
	SupportedSymbols  []string
	SupportedLeverage []int
	DefaultLeverage   int
	DefaultBalance    string // decimal string, parsed by money.Parse at the call site
	FeeRate           string
	MaintenanceMargin string
}

// DefaultTradingConfig returns the spec §6 compile-time constants.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		SupportedSymbols:  []string{"BTC-USDT", "ETH-USDT"},
		SupportedLeverage: []int{2, 5, 10, 15, 20, 25},
		DefaultLeverage:   10,
		DefaultBalance:    "10000.00",
		FeeRate:           "0.0006",
		MaintenanceMargin: "0.005",
	}
}

// Load reads configuration from the environment, falling back to an
// optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "paperfx"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			OrdersQueueKey: getEnv("ORDERS_QUEUE_KEY", "orders_queue"),
		},

		Feed: FeedConfig{
			WSBaseURL:          getEnv("FEED_WS_URL", "wss://stream.bybit.com/v5/public/linear"),
			RESTBaseURL:        getEnv("FEED_REST_URL", "https://api.bybit.com"),
			Category:           getEnv("FEED_CATEGORY", "linear"),
			ReconnectInterval:  getEnvAsDuration("FEED_RECONNECT_INTERVAL", 5*time.Second),
			SubscriberCapacity: getEnvAsInt("SUBSCRIBER_QUEUE_CAPACITY", 256),
			HistoricalTimeout:  getEnvAsDuration("FEED_HISTORICAL_TIMEOUT", 10*time.Second),
		},

		Trading: DefaultTradingConfig(),
	}

	cfg.Trading.SupportedSymbols = getEnvAsSlice("SUPPORTED_SYMBOLS", cfg.Trading.SupportedSymbols, ",")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on missing production secrets, mirroring the
// teacher's config validation shape.
func (c *Config) Validate() error {
	if c.Environment == "production" && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required in production")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	v := getEnv(key, "")
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	v := getEnv(key, "")
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

// getEnvAsSlice supports comma-separated list overrides, e.g. a narrowed
// SUPPORTED_SYMBOLS for a staging deployment.
func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	return strings.Split(v, sep)
}
