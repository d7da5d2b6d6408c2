package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transflow/internal/ride-service/domain"
	"transflow/internal/ride-service/ledger"
	"transflow/pkg/logger"

	"github.com/shopspring/decimal"
)

// Outcome tells the transport what to do with a delivery.
type Outcome int

const (
	// OutcomeAcknowledged: credited (or already credited) and stored.
	OutcomeAcknowledged Outcome = iota + 1
	// OutcomeDropped: malformed, redelivery cannot help.
	OutcomeDropped
	// OutcomeFailed: transient failure, the delivery should come back.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BalanceLedger is the ledger operation the pipeline needs.
type BalanceLedger interface {
	Credit(ctx context.Context, driver, rideID string, amount decimal.Decimal) (ledger.Credit, error)
}

// BalanceCredited is pushed to listeners after a fare lands on a balance.
type BalanceCredited struct {
	Driver  string
	RideID  string
	Amount  decimal.Decimal
	Balance decimal.Decimal
}

type BalanceNotifier interface {
	NotifyBalanceCredited(ctx context.Context, notice BalanceCredited) error
}

// RideProcessor takes one finished-ride payload from receipt to a
// transport decision: decode, credit the driver once, store the ride.
type RideProcessor struct {
	ledger   BalanceLedger
	rides    domain.RideRepository
	notifier BalanceNotifier
	locks    *keyLock
	now      func() time.Time
	logger   logger.Logger
}

type ProcessorOption func(*RideProcessor)

func WithNotifier(n BalanceNotifier) ProcessorOption {
	return func(p *RideProcessor) { p.notifier = n }
}

// WithClock replaces the ingestion clock used for missing timestamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *RideProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewRideProcessor(
	balances BalanceLedger,
	rides domain.RideRepository,
	log logger.Logger,
	opts ...ProcessorOption,
) *RideProcessor {
	p := &RideProcessor{
		ledger: balances,
		rides:  rides,
		locks:  newKeyLock(),
		now:    time.Now,
		logger: log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one payload. The returned error explains Dropped and
// Failed outcomes and is nil for Acknowledged.
//
// The ledger is credited before the ride is stored. The credit is guarded by
// the ride's marker, so when storing fails and the event is redelivered only
// the store step has any effect.
func (p *RideProcessor) Process(ctx context.Context, raw interface{}) (Outcome, error) {
	event, err := domain.DecodeRideEvent(raw, p.now)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			p.logger.Error("ride_event_dropped", err)
			return OutcomeDropped, err
		}
		p.logger.Error("ride_event_decode_failed", err)
		return OutcomeFailed, err
	}

	log := p.logger.WithFields(logger.LogFields{
		"ride_id":   event.RideID(),
		"motorista": event.DriverName(),
		"valor":     event.FareAmount().String(),
	})

	unlock := p.locks.Lock(event.RideID())
	defer unlock()

	credit, err := p.ledger.Credit(ctx, event.DriverName(), event.RideID(), event.FareAmount())
	if err != nil {
		err = fmt.Errorf("credit ride %s: %w", event.RideID(), err)
		log.Error("ride_credit_failed", err)
		return OutcomeFailed, err
	}

	stored, err := p.rides.Upsert(ctx, event.Record())
	if err != nil {
		err = fmt.Errorf("store ride %s: %w", event.RideID(), err)
		log.Error("ride_store_failed", err)
		return OutcomeFailed, err
	}

	log.WithFields(logger.LogFields{
		"saldo":     credit.Balance.String(),
		"creditado": credit.Applied,
		"registro":  stored.String(),
	}).Info("ride_processed", "Ride credited and stored")

	if credit.Applied && p.notifier != nil {
		notice := BalanceCredited{
			Driver:  event.DriverName(),
			RideID:  event.RideID(),
			Amount:  event.FareAmount(),
			Balance: credit.Balance,
		}
		if err := p.notifier.NotifyBalanceCredited(ctx, notice); err != nil {
			log.Warn("balance_notify_failed", err.Error())
		}
	}
	return OutcomeAcknowledged, nil
}
