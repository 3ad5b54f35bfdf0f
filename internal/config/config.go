package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Worker    WorkerConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
	Alerting  AlertingConfig
	Notifier  NotifierConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
}

type GRPCConfig struct {
	Port           int
	HealthInterval time.Duration
}

type ServerConfig struct {
	Host string
	Port int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type AlertingConfig struct {
	DefaultRadiusKm     float64
	MaxRadiusKm         float64
	DispatchConcurrency int
	DeliveryTimeout     time.Duration
	DispatchTimeout     time.Duration
	RedeliveryAttempts  int
	SweepSchedule       string
	SweepGrace          time.Duration
}

type NotifierConfig struct {
	Backend         string
	CredentialsFile string
	// CredentialsB64 is base64-encoded service account JSON, used when no
	// file is given.
	CredentialsB64 string
}

type QueueConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

type RateLimitConfig struct {
	RPS int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		GRPC: GRPCConfig{
			Port:           getEnvInt("GRPC_PORT", 50051),
			HealthInterval: getEnvDuration("GRPC_HEALTH_INTERVAL", 10*time.Second),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 100),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/resq.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Alerting: AlertingConfig{
			DefaultRadiusKm:     getEnvFloat("ALERT_DEFAULT_RADIUS_KM", 5),
			MaxRadiusKm:         getEnvFloat("ALERT_MAX_RADIUS_KM", 100),
			DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", 8),
			DeliveryTimeout:     getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),
			DispatchTimeout:     getEnvDuration("DISPATCH_TIMEOUT", 2*time.Minute),
			RedeliveryAttempts:  getEnvInt("REDELIVERY_MAX_ATTEMPTS", 5),
			SweepSchedule:       getEnv("SWEEP_SCHEDULE", "@every 1m"),
			SweepGrace:          getEnvDuration("SWEEP_GRACE", 5*time.Minute),
		},
		Notifier: NotifierConfig{
			Backend:         getEnv("NOTIFIER_BACKEND", "log"),
			CredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
			CredentialsB64:  getEnv("FCM_CREDENTIALS", ""),
		},
		Queue: QueueConfig{
			Backend:       getEnv("QUEUE_BACKEND", "memory"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisKey:      getEnv("REDIS_QUEUE_KEY", "resq:dispatch"),
		},
		RateLimit: RateLimitConfig{
			RPS: getEnvInt("RATE_LIMIT_RPS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	a := c.Alerting
	if a.DefaultRadiusKm <= 0 || a.MaxRadiusKm <= 0 {
		return fmt.Errorf("alert radii must be positive")
	}
	if a.DefaultRadiusKm > a.MaxRadiusKm {
		return fmt.Errorf("default alert radius %.1fkm exceeds max %.1fkm", a.DefaultRadiusKm, a.MaxRadiusKm)
	}
	if a.DispatchConcurrency < 1 {
		return fmt.Errorf("dispatch concurrency must be at least 1")
	}
	if a.DeliveryTimeout <= 0 || a.DispatchTimeout <= 0 {
		return fmt.Errorf("delivery and dispatch timeouts must be positive")
	}
	// A shorter grace would requeue events whose first run is still going.
	if a.SweepGrace < a.DispatchTimeout {
		return fmt.Errorf("sweep grace %v must be at least the dispatch timeout %v", a.SweepGrace, a.DispatchTimeout)
	}
	if _, err := cron.ParseStandard(a.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", a.SweepSchedule, err)
	}

	switch c.Notifier.Backend {
	case "log":
	case "fcm":
		if c.Notifier.CredentialsFile == "" && c.Notifier.CredentialsB64 == "" {
			return fmt.Errorf("fcm notifier requires FCM_CREDENTIALS_FILE or FCM_CREDENTIALS")
		}
	default:
		return fmt.Errorf("invalid notifier backend: %s", c.Notifier.Backend)
	}

	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("redis queue requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("invalid queue backend: %s", c.Queue.Backend)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
