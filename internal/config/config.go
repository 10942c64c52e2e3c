package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config конфигурация сервиса диспетчеризации, читается из переменных окружения.
type Config struct {
	HTTPPort    string `envconfig:"HTTP_PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	APIKey      string `envconfig:"API_KEY"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	WebhookURL        string `envconfig:"WEBHOOK_URL" default:"http://localhost:9090"`
	WebhookMaxRetries int    `envconfig:"WEBHOOK_MAX_RETRIES" default:"3"`
	// Буфер событий между переходами и очередью Redis; при переполнении события отбрасываются.
	WebhookBufferSize int `envconfig:"WEBHOOK_BUFFER_SIZE" default:"256"`

	// Радиус подтверждения прибытия на объект, в метрах.
	ProximityMeters float64 `envconfig:"PROXIMITY_METERS" default:"150"`

	BusBufferSize int `envconfig:"BUS_BUFFER_SIZE" default:"64"`
	ToastLimit    int `envconfig:"TOAST_LIMIT" default:"20"`

	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"dispatch.events"`

	SLAScanInterval time.Duration `envconfig:"SLA_SCAN_INTERVAL" default:"5s"`
	BoardCacheTTL   time.Duration `envconfig:"BOARD_CACHE_TTL" default:"30s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}
	if cfg.ProximityMeters <= 0 {
		return nil, fmt.Errorf("PROXIMITY_METERS must be positive, got %v", cfg.ProximityMeters)
	}
	if cfg.BusBufferSize <= 0 {
		return nil, fmt.Errorf("BUS_BUFFER_SIZE must be positive, got %d", cfg.BusBufferSize)
	}
	if cfg.WebhookBufferSize <= 0 {
		return nil, fmt.Errorf("WEBHOOK_BUFFER_SIZE must be positive, got %d", cfg.WebhookBufferSize)
	}
	if cfg.SLAScanInterval <= 0 {
		return nil, fmt.Errorf("SLA_SCAN_INTERVAL must be positive, got %v", cfg.SLAScanInterval)
	}
	return &cfg, nil
}

// UseMemoryStorage сообщает, что Postgres не настроен и данные хранятся в памяти процесса.
func (c *Config) UseMemoryStorage() bool {
	return c.DatabaseURL == ""
}
