package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config — настройки приложения из переменных окружения.
type Config struct {
	LogLevel  string `env:"FF_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FF_LOG_FORMAT" envDefault:"json"`

	// HTTPAddr — адрес служебного HTTP-сервера: метрики и health checks.
	HTTPAddr string `env:"FF_HTTP_ADDR" envDefault:":9090"`

	// PostgresDSN пустой — репозитории работают в памяти (локальная разработка).
	PostgresDSN string `env:"FF_POSTGRES_DSN"`

	// KafkaBrokers пустой — приложение стартует без шины: воркеры и
	// consumer-ы не поднимаются.
	KafkaBrokers       []string `env:"FF_KAFKA_BROKERS" envSeparator:","`
	KafkaGroupID       string   `env:"FF_KAFKA_GROUP_ID" envDefault:"fulfillment"`
	ConsumerMaxRetries int      `env:"FF_CONSUMER_MAX_RETRIES" envDefault:"3"`

	// RedisAddr пустой — распределённый лок заменяется внутрипроцессным.
	RedisAddr     string `env:"FF_REDIS_ADDR"`
	RedisPassword string `env:"FF_REDIS_PASSWORD"`

	OutboxPollInterval time.Duration `env:"FF_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"FF_OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxRetry     int           `env:"FF_OUTBOX_MAX_RETRY" envDefault:"5"`

	ReservationTTL time.Duration `env:"FF_RESERVATION_TTL" envDefault:"10m"`
	SweepInterval  time.Duration `env:"FF_SWEEP_INTERVAL" envDefault:"30s"`

	DedupRetention        time.Duration `env:"FF_DEDUP_RETENTION" envDefault:"168h"`
	DedupCleanupInterval  time.Duration `env:"FF_DEDUP_CLEANUP_INTERVAL" envDefault:"10m"`
	HealthProbeInterval   time.Duration `env:"FF_HEALTH_PROBE_INTERVAL" envDefault:"30s"`
	ShutdownTimeout       time.Duration `env:"FF_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	PaymentErrorThreshold int           `env:"FF_PAYMENT_ERROR_THRESHOLD" envDefault:"5"`
	PaymentCooldown       time.Duration `env:"FF_PAYMENT_COOLDOWN" envDefault:"30s"`
}

// LoadConfig читает конфигурацию из окружения.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("outbox batch size must be positive, got %d", c.OutboxBatchSize)
	}
	if c.OutboxMaxRetry <= 0 {
		return fmt.Errorf("outbox max retry must be positive, got %d", c.OutboxMaxRetry)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("reservation ttl must be positive, got %s", c.ReservationTTL)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaGroupID == "" {
		return fmt.Errorf("kafka group id is required when brokers are set")
	}
	return nil
}
