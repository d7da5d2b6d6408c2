package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transflow/internal/ride-service/ledger"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Client is the subset of go-redis the store needs.
// Supports *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	Ping(ctx context.Context) *redis.StatusCmd
}

// Compile-time check: RedisLedgerStore implements ledger.Store
var _ ledger.Store = (*RedisLedgerStore)(nil)

// RedisLedgerStore keeps balances as decimal strings. Swap is a
// WATCH/MULTI/EXEC transaction over the balance key and the credit marker.
type RedisLedgerStore struct {
	client    Client
	markerTTL time.Duration
}

// NewRedisLedgerStore creates the store. A zero markerTTL keeps credit
// markers forever.
func NewRedisLedgerStore(client Client, markerTTL time.Duration) *RedisLedgerStore {
	return &RedisLedgerStore{client: client, markerTTL: markerTTL}
}

func (s *RedisLedgerStore) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	return readBalance(s.client.Get(ctx, key))
}

func (s *RedisLedgerStore) Set(ctx context.Context, key string, value decimal.Decimal) error {
	if err := s.client.Set(ctx, key, value.String(), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisLedgerStore) SetIfAbsent(ctx context.Context, key string, value decimal.Decimal) (bool, error) {
	created, err := s.client.SetNX(ctx, key, value.String(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return created, nil
}

func (s *RedisLedgerStore) Swap(ctx context.Context, key, marker string, fn ledger.Mutation) (decimal.Decimal, bool, error) {
	keys := []string{key}
	if marker != "" {
		keys = append(keys, marker)
	}

	var (
		result  decimal.Decimal
		written bool
	)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		balance, exists, err := readBalance(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		state := ledger.State{Balance: balance, Exists: exists}
		if marker != "" {
			n, err := tx.Exists(ctx, marker).Result()
			if err != nil {
				return fmt.Errorf("redis exists %s: %w", marker, err)
			}
			state.Credited = n > 0
		}

		next, write := fn(state)
		if !write {
			result = balance
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next.String(), 0)
			if marker != "" {
				pipe.Set(ctx, marker, "1", s.markerTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, written = next, true
		return nil
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return decimal.Zero, false, ledger.ErrConflict
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis swap %s: %w", key, err)
	}
	return result, written, nil
}

// Ping reports whether Redis answers.
func (s *RedisLedgerStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func readBalance(cmd *redis.StringCmd) (decimal.Decimal, bool, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get: %w", err)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("balance %q is not a decimal: %w", raw, err)
	}
	return value, true, nil
}
