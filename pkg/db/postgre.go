package db

import (
	"context"
	"fmt"
	"time"

	"transflow/pkg/config"
	"transflow/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxRetries    = 5
	retryInterval = 3 * time.Second
)

// NewConnection opens a pool and pings it, retrying a bounded number of
// times. Each dial is capped by cfg.DB.ConnectTimeout.
func NewConnection(ctx context.Context, cfg *config.Config, log logger.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Database,
	)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.DB.ConnectTimeout

	log.Info("db_connect", "Connecting to database...")

	var pool *pgxpool.Pool
	for i := 0; i < maxRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			log.Error("db_connect_failed", fmt.Errorf("failed to connect to database(attempt %d/%d): %w", i+1, maxRetries, err))
			if !sleep(ctx, retryInterval) {
				return nil, ctx.Err()
			}
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, cfg.DB.ConnectTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info("db_connected_success", "Successfully connected to database")
			return pool, nil
		}

		log.Error("db_ping_failed", fmt.Errorf("failed to connect to database(attempt %d/%d): %w", i+1, maxRetries, err))
		pool.Close()
		if !sleep(ctx, retryInterval) {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
