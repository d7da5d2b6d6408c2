package messaging

import (
	"context"
	"fmt"

	"transflow/internal/ride-service/domain"
	"transflow/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the publishing side of *rabbitmq.Connection.
type Broker interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// RabbitMQEventPublisher implements service.EventPublisher
type RabbitMQEventPublisher struct {
	rabbit Broker
	queue  string
	logger logger.Logger
}

// NewRabbitMQEventPublisher creates a publisher that routes finished rides
// straight to queue through the default exchange.
func NewRabbitMQEventPublisher(rabbit Broker, queue string, logger logger.Logger) *RabbitMQEventPublisher {
	return &RabbitMQEventPublisher{
		rabbit: rabbit,
		queue:  queue,
		logger: logger,
	}
}

// Publish returns once the broker has confirmed the message. A failed or
// timed out confirm is an error; the caller may retry and the consumer
// tolerates the duplicate.
func (p *RabbitMQEventPublisher) Publish(ctx context.Context, event domain.RideEvent) error {
	body, err := domain.EncodeRideEvent(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		MessageId:       event.RideID(),
		Type:            "ride.finished",
		Body:            body,
	}
	if err := p.rabbit.PublishMessage(ctx, "", p.queue, msg); err != nil {
		return fmt.Errorf("publish ride %s to %s: %w", event.RideID(), p.queue, err)
	}

	p.logger.WithFields(logger.LogFields{
		"ride_id": event.RideID(),
		"queue":   p.queue,
	}).Info("event_published", "Finished ride published to RabbitMQ")

	return nil
}
