package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	GatewayBaseURL        string
	GatewayAccessToken    string
	GatewayEntityCard     string
	GatewayEntityApplePay string
	GatewayCurrency       string
	GatewayTimeout        time.Duration

	MinAmount float64
	MaxAmount float64
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:    os.Getenv("JWT_SECRET"),

		GatewayBaseURL:        os.Getenv("HYPERPAY_BASE_URL"),
		GatewayAccessToken:    os.Getenv("HYPERPAY_ACCESS_TOKEN"),
		GatewayEntityCard:     os.Getenv("HYPERPAY_ENTITY_ID_CARD"),
		GatewayEntityApplePay: os.Getenv("HYPERPAY_ENTITY_ID_APPLEPAY"),
		GatewayCurrency:       os.Getenv("HYPERPAY_CURRENCY"),
		GatewayTimeout:        15 * time.Second,

		MinAmount: envFloat("PAYMENT_MIN_AMOUNT", 5),
		MaxAmount: envFloat("PAYMENT_MAX_AMOUNT", 10000),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=washes sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.GatewayBaseURL == "" {
		cfg.GatewayBaseURL = "https://eu-test.oppwa.com"
	}
	if cfg.GatewayCurrency == "" {
		cfg.GatewayCurrency = "SAR"
	}
	if v := os.Getenv("HYPERPAY_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.GatewayTimeout = time.Duration(secs) * time.Second
		}
	}

	slog.Info("config loaded",
		"postgres_dsn", cfg.PostgresDSN,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"gateway_base_url", cfg.GatewayBaseURL,
		"amount_bounds", []float64{cfg.MinAmount, cfg.MaxAmount})
	return cfg
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float in env, using fallback", "key", key, "value", v)
		return fallback
	}
	return f
}
