package rabbitmq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"transflow/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdleConnection() *Connection {
	return &Connection{logger: logger.Nop(), done: make(chan bool)}
}

// startWorker mimics a consumer goroutine that settles its delivery after
// shutdown is signalled.
func startWorker(c *Connection, work time.Duration, finished *atomic.Bool) {
	c.consumers.Add(1)
	go func() {
		defer c.consumers.Done()
		<-c.done
		time.Sleep(work)
		finished.Store(true)
	}()
}

func TestShutdown(t *testing.T) {
	t.Run("waits for consumers to settle", func(t *testing.T) {
		c := newIdleConnection()
		var finished atomic.Bool
		startWorker(c, 50*time.Millisecond, &finished)

		err := c.Shutdown(context.Background())

		require.NoError(t, err)
		assert.True(t, finished.Load())
		assert.False(t, c.IsConnected())
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		c := newIdleConnection()
		var finished atomic.Bool
		startWorker(c, time.Second, &finished)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := c.Shutdown(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, finished.Load())
	})

	t.Run("is idempotent", func(t *testing.T) {
		c := newIdleConnection()

		require.NoError(t, c.Shutdown(context.Background()))
		assert.NoError(t, c.Shutdown(context.Background()))
		c.Close()
	})
}

func TestConsumeRejectsNoWorkers(t *testing.T) {
	c := newIdleConnection()

	assert.Error(t, c.Consume("finished_drives", 0, nil))
}
