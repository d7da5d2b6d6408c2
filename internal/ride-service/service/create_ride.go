package service

import (
	"context"
	"fmt"
	"time"

	"transflow/internal/ride-service/domain"
	"transflow/pkg/logger"

	"github.com/google/uuid"
)

// CreateRideCommand carries a finished ride as submitted over HTTP, without
// id_corrida and data_criacao.
type CreateRideCommand struct {
	Payload map[string]interface{}
}

// EventPublisher is the interface for publishing finished rides
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RideEvent) error
}

// CreateRideUseCase assigns an id and creation time to a ride and hands it
// to the queue. Storage and crediting happen downstream in the consumer.
type CreateRideUseCase struct {
	eventPublisher EventPublisher
	logger         logger.Logger
	newID          func() string
	now            func() time.Time
}

// NewCreateRideUseCase creates a new use case instance
func NewCreateRideUseCase(eventPublisher EventPublisher, logger logger.Logger) *CreateRideUseCase {
	return &CreateRideUseCase{
		eventPublisher: eventPublisher,
		logger:         logger,
		newID:          uuid.NewString,
		now:            time.Now,
	}
}

// Execute runs the use case
func (uc *CreateRideUseCase) Execute(ctx context.Context, cmd CreateRideCommand) (domain.RideEvent, error) {
	payload := make(map[string]interface{}, len(cmd.Payload)+2)
	for k, v := range cmd.Payload {
		payload[k] = v
	}
	rideID := uc.newID()
	payload[domain.FieldRideID] = rideID
	payload[domain.FieldCreatedAt] = uc.now().UTC().Format(time.RFC3339Nano)

	event, err := domain.DecodeRideEvent(payload, uc.now)
	if err != nil {
		uc.logger.Error("invalid_ride_payload", err)
		return domain.RideEvent{}, err
	}

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		uc.logger.Error("publish_ride_failed", err)
		return domain.RideEvent{}, fmt.Errorf("failed to publish ride %s: %w", rideID, err)
	}

	uc.logger.WithFields(logger.LogFields{
		"ride_id":   rideID,
		"motorista": event.DriverName(),
		"valor":     event.FareAmount().StringFixed(2),
	}).Info("ride_published", "Finished ride published")

	return event, nil
}
