package ledgerstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"transflow/internal/ride-service/ledger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, markerTTL time.Duration) (*RedisLedgerStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedgerStore(client, markerTTL), mr, client
}

func TestRedisLedgerStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get set and set-if-absent", func(t *testing.T) {
		store, mr, _ := newTestStore(t, 0)

		_, ok, err := store.Get(ctx, "saldo:ana")
		require.NoError(t, err)
		assert.False(t, ok)

		created, err := store.SetIfAbsent(ctx, "saldo:ana", decimal.Zero)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = store.SetIfAbsent(ctx, "saldo:ana", decimal.NewFromInt(9))
		require.NoError(t, err)
		assert.False(t, created)

		require.NoError(t, store.Set(ctx, "saldo:ana", decimal.RequireFromString("-4.20")))
		value, ok, err := store.Get(ctx, "saldo:ana")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "-4.2", value.String())

		raw, err := mr.Get("saldo:ana")
		require.NoError(t, err)
		assert.Equal(t, "-4.2", raw)
	})

	t.Run("swap writes balance and marker together", func(t *testing.T) {
		store, mr, _ := newTestStore(t, time.Hour)

		balance, written, err := store.Swap(ctx, "saldo:ana", "creditado:r1", func(s ledger.State) (decimal.Decimal, bool) {
			assert.False(t, s.Exists)
			assert.False(t, s.Credited)
			return s.Balance.Add(decimal.RequireFromString("35.50")), true
		})

		require.NoError(t, err)
		assert.True(t, written)
		assert.Equal(t, "35.5", balance.String())
		assert.True(t, mr.Exists("creditado:r1"))
		assert.Equal(t, time.Hour, mr.TTL("creditado:r1"))
	})

	t.Run("swap sees an existing marker", func(t *testing.T) {
		store, mr, _ := newTestStore(t, 0)
		require.NoError(t, mr.Set("saldo:ana", "10"))
		require.NoError(t, mr.Set("creditado:r1", "1"))

		balance, written, err := store.Swap(ctx, "saldo:ana", "creditado:r1", func(s ledger.State) (decimal.Decimal, bool) {
			assert.True(t, s.Credited)
			return s.Balance, false
		})

		require.NoError(t, err)
		assert.False(t, written)
		assert.Equal(t, "10", balance.String())
	})

	t.Run("concurrent write between read and exec is a conflict", func(t *testing.T) {
		store, mr, other := newTestStore(t, 0)
		require.NoError(t, mr.Set("saldo:ana", "10"))

		_, _, err := store.Swap(ctx, "saldo:ana", "", func(s ledger.State) (decimal.Decimal, bool) {
			require.NoError(t, other.Set(ctx, "saldo:ana", "99", 0).Err())
			return s.Balance.Add(decimal.NewFromInt(1)), true
		})

		assert.ErrorIs(t, err, ledger.ErrConflict)
		raw, err := mr.Get("saldo:ana")
		require.NoError(t, err)
		assert.Equal(t, "99", raw)
	})

	t.Run("non-decimal balance is an error", func(t *testing.T) {
		store, mr, _ := newTestStore(t, 0)
		require.NoError(t, mr.Set("saldo:ana", "abc"))

		_, _, err := store.Get(ctx, "saldo:ana")

		assert.Error(t, err)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		store, mr, _ := newTestStore(t, 0)
		mr.Close()

		assert.Error(t, store.Ping(ctx))
		_, _, err := store.Swap(ctx, "saldo:ana", "", func(s ledger.State) (decimal.Decimal, bool) {
			return s.Balance, true
		})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ledger.ErrConflict)
	})
}

func TestLedgerOverRedis(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent increments are all applied", func(t *testing.T) {
		const writers = 20
		store, mr, _ := newTestStore(t, 0)
		l := ledger.New(store, ledger.WithMaxAttempts(writers), ledger.WithBackoff(0, 0))

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Increment(ctx, "Ana", decimal.RequireFromString("2.5"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		raw, err := mr.Get("saldo:ana")
		require.NoError(t, err)
		assert.Equal(t, "50", raw)
	})

	t.Run("credit redelivery is a no-op", func(t *testing.T) {
		store, _, _ := newTestStore(t, 0)
		l := ledger.New(store)

		first, err := l.Credit(ctx, "Ana", "r1", decimal.RequireFromString("35.50"))
		require.NoError(t, err)
		second, err := l.Credit(ctx, "Ana", "r1", decimal.RequireFromString("35.50"))
		require.NoError(t, err)

		assert.True(t, first.Applied)
		assert.False(t, second.Applied)
		balance, err := l.Balance(ctx, "ana")
		require.NoError(t, err)
		assert.Equal(t, "35.5", balance.String())
	})

	t.Run("balance of unknown driver is materialized", func(t *testing.T) {
		store, mr, _ := newTestStore(t, 0)

		balance, err := ledger.New(store).Balance(ctx, "Bruno")

		require.NoError(t, err)
		assert.True(t, balance.IsZero())
		assert.True(t, mr.Exists("saldo:bruno"))
	})
}
