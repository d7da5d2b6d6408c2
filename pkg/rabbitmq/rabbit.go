package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transflow/pkg/config"
	"transflow/pkg/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	maxRetries    = 10
	retryInterval = 3 * time.Second
)

var (
	ErrNotConnected = errors.New("rabbitmq is not connected")
	ErrNacked       = errors.New("rabbitmq broker did not confirm the message")
)

// Connection is a wrapper around the amqp.Connection that handles auto-reconnection.
type Connection struct {
	logger      logger.Logger
	config      *config.Config
	dsn         string
	conn        *amqp.Connection
	pubChannel  *amqp.Channel // confirm-mode channel dedicated to publishing
	mu          sync.RWMutex  // Protects conn and pubChannel during reconnects
	isConnected bool
	notifyClose chan *amqp.Error
	done        chan bool      // Signals graceful shutdown
	consumers   sync.WaitGroup // One per Consume goroutine, done once its workers settled
}

func NewConnection(cfg *config.Config, log logger.Logger) (*Connection, error) {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.User,
		cfg.RabbitMQ.Password,
		cfg.RabbitMQ.Host,
		cfg.RabbitMQ.Port,
	)
	c := &Connection{
		logger: log,
		config: cfg,
		dsn:    dsn,
		done:   make(chan bool),
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		err = c.connect()
		if err != nil {
			log.Error("rabbitmq_connect_retry", fmt.Errorf("failed to connect to RabbitMQ (attempt %d/%d): %w", i+1, maxRetries, err))
			time.Sleep(retryInterval)
			continue
		}
		log.Info("rabbitmq_connect", "Initial RabbitMQ connection established")
		if setupErr := c.SetupTopology(); setupErr != nil {
			c.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ topology: %w", setupErr)
		}
		go c.reconnectLoop()
		return c, nil
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d retries: %w", maxRetries, err)
}

func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.DialConfig(c.dsn, amqp.Config{
		Dial: amqp.DefaultDial(c.config.RabbitMQ.DialTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	c.pubChannel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open publisher channel: %w", err)
	}
	if err := c.pubChannel.Confirm(false); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.isConnected = true
	c.notifyClose = make(chan *amqp.Error, 1)
	c.conn.NotifyClose(c.notifyClose)

	c.logger.Info("rabbitmq_connect_internal", "Connection and publisher channel established")
	return nil
}

func (c *Connection) reconnectLoop() {
	c.logger.Info("rabbitmq_reconnect_loop", "Starting reconnection loop")
	for {
		select {
		case <-c.done:
			c.logger.Info("rabbitmq_reconnect_loop", "Shutting down reconnection loop")
			return
		case err := <-c.notifyClose:
			if err == nil {
				c.logger.Info("rabbitmq_reconnect_loop", "Connection closed gracefully")
				return
			}
			c.logger.Error("rabbitmq_disconnect", fmt.Errorf("RabbitMQ connection lost: %w", err))
			c.mu.Lock()
			c.isConnected = false
			c.mu.Unlock()

			backoff := time.Second
			for {
				c.logger.Info("rabbitmq_reconnect_attempt", fmt.Sprintf("Attempting to reconnect in %s...", backoff))
				select {
				case <-c.done:
					return
				case <-time.After(backoff):
				}

				if err := c.connect(); err != nil {
					c.logger.Error("rabbitmq_reconnect_failed", fmt.Errorf("failed to reconnect to RabbitMQ: %w", err))
					backoff = time.Duration(float64(backoff) * 1.5)
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					continue
				}

				if setupErr := c.SetupTopology(); setupErr != nil {
					c.logger.Error("rabbitmq_reconnect_setup_failed", fmt.Errorf("failed to re-declare topology to RabbitMQ: %w", setupErr))
					continue
				}
				c.logger.Info("rabbitmq_reconnect_success", "RabbitMQ connection established")
				break
			}
		}
	}
}

// SetupTopology declares the durable ride queue. Rides are published on the
// default exchange with the queue name as routing key, so no bindings are
// needed.
func (c *Connection) SetupTopology() error {
	c.mu.RLock()
	if !c.isConnected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	ch, err := c.conn.Channel()
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to open setup channel: %w", err)
	}
	defer ch.Close()

	queue := c.config.RabbitMQ.Queue
	c.logger.WithFields(logger.LogFields{"queue": queue}).Info("rabbitmq_setup", "Declaring RabbitMQ topology")

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	c.logger.Info("rabbitmq_setup_success", "Successfully declared RabbitMQ topology")
	return nil
}

// IsConnected reports whether the connection is currently usable.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// PublishMessage publishes msg and waits for the broker confirm, so a nil
// error means the broker has taken responsibility for the message.
func (c *Connection) PublishMessage(ctx context.Context, exchange, routingkey string, msg amqp.Publishing) error {
	c.mu.RLock()
	if !c.isConnected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	ch := c.pubChannel
	c.mu.RUnlock()

	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingkey, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for publisher confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// Consume starts a consumer on a specific queue.
// Deliveries are handed to a fixed pool of workers goroutines; prefetch bounds
// how many unacknowledged messages the broker pushes at once.
// This method handles its own reconnection loop for the consumer. On Shutdown
// the consumer is cancelled and its workers finish the deliveries they hold
// before the connection goes away.
func (c *Connection) Consume(queueName string, workers int, handler func(amqp.Delivery)) error {
	if workers < 1 {
		return fmt.Errorf("consume %s: workers must be positive, got %d", queueName, workers)
	}
	log := c.logger.WithFields(logger.LogFields{"queue": queueName, "workers": workers})
	log.Info("consumer_start", "Starting consumer goroutine")

	c.consumers.Add(1)
	go func() {
		defer c.consumers.Done()
		for {
			select {
			case <-c.done:
				return
			default:
			}

			c.mu.RLock() // Read lock to check connection status
			if !c.isConnected {
				c.mu.RUnlock()
				log.Info("consumer_wait", "Not connected, waiting to restart consumer...")
				select {
				case <-c.done:
					return
				case <-time.After(retryInterval):
				}
				continue
			}

			// Create a new channel for this consumer
			ch, err := c.conn.Channel()
			c.mu.RUnlock()
			if err != nil {
				log.Error("consumer_channel_fail", fmt.Errorf("failed to open consumer channel: %w", err))
				time.Sleep(retryInterval)
				continue
			}

			if err := ch.Qos(c.config.RabbitMQ.Prefetch, 0, false); err != nil {
				log.Error("consumer_qos_fail", fmt.Errorf("failed to set QoS: %w", err))
				ch.Close()
				time.Sleep(retryInterval)
				continue
			}

			tag := queueName + "-" + uuid.NewString()
			msgs, err := ch.Consume(
				queueName,
				tag,   // consumer tag
				false, // auto-ack (false = manual ack)
				false, // exclusive
				false, // no-local
				false, // no-wait
				nil,   // args
			)
			if err != nil {
				log.Error("consumer_consume_fail", fmt.Errorf("failed to start consuming: %w", err))
				ch.Close()
				time.Sleep(retryInterval)
				continue
			}

			log.Info("consumer_running", "Consumer started and waiting for messages")

			// Workers drain msgs until the channel closes; the delivery
			// channel is closed by the library on cancel or when ch goes away.
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for msg := range msgs {
						handler(msg)
					}
				}()
			}

			notifyChanClose := ch.NotifyClose(make(chan *amqp.Error, 1))
			select {
			case <-c.done:
				log.Info("consumer_shutdown", "Service shutting down, draining consumer")
				if err := ch.Cancel(tag, false); err != nil {
					log.Error("consumer_cancel_fail", fmt.Errorf("failed to cancel consumer: %w", err))
					ch.Close()
				}
				wg.Wait()
				ch.Close()
				log.Info("consumer_drained", "Consumer workers finished")
				return
			case err := <-notifyChanClose:
				log.Error("consumer_channel_closed", fmt.Errorf("consumer channel closed: %v", err))
				wg.Wait()
			}
		}
	}()
	return nil
}

// Close shuts the connection down without waiting for consumers.
func (c *Connection) Close() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.Shutdown(ctx)
}

// Shutdown stops the reconnect loop and every consumer, waits until their
// workers have settled the deliveries in hand (or ctx is done), then closes
// the connection.
func (c *Connection) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil
	default:
	}
	c.logger.Info("rabbitmq_close", "Closing RabbitMQ connection")
	close(c.done)
	c.mu.Unlock()

	var err error
	drained := make(chan struct{})
	go func() {
		c.consumers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("rabbitmq consumers still running at shutdown: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = false
	if c.pubChannel != nil {
		c.pubChannel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	return err
}
