package cache

import (
	"context"
	"fmt"
	"time"

	"transflow/pkg/config"
	"transflow/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	maxRetries    = 5
	retryInterval = 2 * time.Second
)

// NewClient builds a Redis client with explicit dial/read/write timeouts and
// pings it until it answers or the retry budget is spent. The client
// reconnects lazily on later failures.
func NewClient(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   3,
	})

	log = log.WithFields(logger.LogFields{"addr": addr})
	log.Info("redis_connect", "Connecting to Redis...")

	var err error
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Info("redis_connected_success", "Successfully connected to Redis")
			return client, nil
		}
		log.Error("redis_ping_failed", fmt.Errorf("failed to reach redis (attempt %d/%d): %w", i+1, maxRetries, err))

		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, err)
}
