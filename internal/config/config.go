package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN  string
	StoreDriver  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string
	HTTPAddr     string
	MetricsAddr  string
	OTLPEndpoint string
	LogLevel     string

	EventsTopic        string
	NotificationsTopic string
	ConsumerGroup      string

	SettlementInterval time.Duration
	ReminderWindow     time.Duration
	SettlementLockTTL  time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		StoreDriver:        os.Getenv("STORE_DRIVER"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKER")),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		EventsTopic:        os.Getenv("KAFKA_EVENTS_TOPIC"),
		NotificationsTopic: os.Getenv("KAFKA_NOTIFICATIONS_TOPIC"),
		ConsumerGroup:      os.Getenv("KAFKA_CONSUMER_GROUP"),
		SettlementInterval: durationEnv("SETTLEMENT_INTERVAL", time.Minute),
		ReminderWindow:     durationEnv("REMINDER_WINDOW", 24*time.Hour),
		SettlementLockTTL:  durationEnv("SETTLEMENT_LOCK_TTL", 5*time.Minute),
	}

	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=auction sslmode=disable"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = "auction-events"
	}
	if cfg.NotificationsTopic == "" {
		cfg.NotificationsTopic = "notifications"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "auction-notifications"
	}

	slog.Info("config loaded",
		"store_driver", cfg.StoreDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"http_addr", cfg.HTTPAddr,
		"settlement_interval", cfg.SettlementInterval,
	)
	return cfg
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
