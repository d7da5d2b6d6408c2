package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string
	DB       struct {
		Host           string
		Port           int
		User           string
		Password       string
		Database       string
		ConnectTimeout time.Duration
	}
	RabbitMQ struct {
		Host        string
		Port        int
		User        string
		Password    string
		Queue       string
		Prefetch    int
		DialTimeout time.Duration
	}
	Redis struct {
		Host         string
		Port         int
		Password     string
		DB           int
		DialTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
	}
	Ledger struct {
		MaxAttempts int
		BackoffBase time.Duration
		BackoffMax  time.Duration
		MarkerTTL   time.Duration
	}
	Consumer struct {
		Workers       int
		HandleTimeout time.Duration
	}
	Services struct {
		RideService  int
		RideConsumer int
	}
}

// LoadConfig reads filename into the process environment (a missing file is
// not an error) and builds the configuration from it.
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not load env file: %w", err)
	}

	cfg := &Config{}
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "transflow")
	cfg.DB.Password = getEnv("DB_PASS", "transflow")
	cfg.DB.Database = getEnv("DB_NAME", "transflow")
	cfg.DB.ConnectTimeout = getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second)

	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.RabbitMQ.Queue = getEnv("RABBITMQ_QUEUE", "finished_drives")
	cfg.RabbitMQ.Prefetch = getEnvAsInt("RABBITMQ_PREFETCH", 16)
	cfg.RabbitMQ.DialTimeout = getEnvAsDuration("RABBITMQ_DIAL_TIMEOUT", 10*time.Second)

	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)
	cfg.Redis.DialTimeout = getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.Redis.ReadTimeout = getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)

	cfg.Ledger.MaxAttempts = getEnvAsInt("LEDGER_MAX_ATTEMPTS", 10)
	cfg.Ledger.BackoffBase = getEnvAsDuration("LEDGER_BACKOFF_BASE", 2*time.Millisecond)
	cfg.Ledger.BackoffMax = getEnvAsDuration("LEDGER_BACKOFF_MAX", 50*time.Millisecond)
	cfg.Ledger.MarkerTTL = getEnvAsDuration("LEDGER_MARKER_TTL", 0)

	cfg.Consumer.Workers = getEnvAsInt("CONSUMER_WORKERS", 8)
	cfg.Consumer.HandleTimeout = getEnvAsDuration("CONSUMER_HANDLE_TIMEOUT", 30*time.Second)

	cfg.Services.RideService = getEnvAsInt("SERVICES_RIDE_SERVICE", 3000)
	cfg.Services.RideConsumer = getEnvAsInt("SERVICES_RIDE_CONSUMER", 3001)

	if cfg.Ledger.MaxAttempts < 1 {
		return nil, fmt.Errorf("LEDGER_MAX_ATTEMPTS must be positive, got %d", cfg.Ledger.MaxAttempts)
	}
	if cfg.Consumer.Workers < 1 {
		return nil, fmt.Errorf("CONSUMER_WORKERS must be positive, got %d", cfg.Consumer.Workers)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration syntax ("250ms", "5s"); a bare integer
// is read as seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
