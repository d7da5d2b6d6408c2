package consumer

import (
	"context"
	"fmt"
	"time"

	"transflow/internal/ride-service/service"
	"transflow/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscriber is the consuming side of *rabbitmq.Connection.
type Subscriber interface {
	Consume(queueName string, workers int, handler func(amqp.Delivery)) error
}

type Processor interface {
	Process(ctx context.Context, raw interface{}) (service.Outcome, error)
}

// RideConsumer feeds finished-ride deliveries to the processor and settles
// each one according to the outcome.
type RideConsumer struct {
	rabbit        Subscriber
	processor     Processor
	queue         string
	workers       int
	handleTimeout time.Duration
	log           logger.Logger
}

func New(rabbit Subscriber, processor Processor, queue string, workers int, handleTimeout time.Duration, log logger.Logger) *RideConsumer {
	return &RideConsumer{
		rabbit:        rabbit,
		processor:     processor,
		queue:         queue,
		workers:       workers,
		handleTimeout: handleTimeout,
		log:           log,
	}
}

// StartConsuming registers the handler; deliveries flow until ctx is done
// or the connection is closed.
func (c *RideConsumer) StartConsuming(ctx context.Context) error {
	c.log.WithFields(logger.LogFields{
		"queue":   c.queue,
		"workers": c.workers,
	}).Info("consumer_starting", "Starting finished ride consumer")

	if err := c.rabbit.Consume(c.queue, c.workers, func(msg amqp.Delivery) {
		c.handleDelivery(ctx, msg)
	}); err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return nil
}

func (c *RideConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	if c.handleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handleTimeout)
		defer cancel()
	}

	outcome, err := c.processor.Process(ctx, msg.Body)

	log := c.log.WithFields(logger.LogFields{
		"delivery_tag": msg.DeliveryTag,
		"redelivered":  msg.Redelivered,
		"outcome":      outcome.String(),
	})

	switch outcome {
	case service.OutcomeAcknowledged, service.OutcomeDropped:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("ack_failed", ackErr)
		}
	default:
		log.Warn("delivery_requeued", fmt.Sprintf("Returning delivery to the queue: %v", err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Error("nack_failed", nackErr)
		}
	}
}
