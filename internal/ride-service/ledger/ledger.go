package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transflow/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	DefaultMaxAttempts = 10
	DefaultBackoffBase = 2 * time.Millisecond
	DefaultBackoffMax  = 50 * time.Millisecond

	accountPrefix = "saldo:"
	markerPrefix  = "creditado:"
)

// Account normalizes a driver name into its account identity. Names are
// case-insensitive and surrounding blanks are ignored.
func Account(driver string) string {
	return strings.ToLower(strings.TrimSpace(driver))
}

// AccountKey is the store key of a driver's balance.
func AccountKey(driver string) string {
	return accountPrefix + Account(driver)
}

// CreditMarkerKey marks a ride whose fare has already been credited.
func CreditMarkerKey(rideID string) string {
	return markerPrefix + rideID
}

// Credit is the outcome of crediting a ride's fare.
type Credit struct {
	Balance decimal.Decimal
	Applied bool // false when the ride had been credited before
}

// Ledger keeps per-driver balances consistent across any number of
// concurrent writers using optimistic compare-and-retry on the Store.
type Ledger struct {
	store       Store
	logger      logger.Logger
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

type Option func(*Ledger)

// WithMaxAttempts bounds how many conflicting attempts an update may make.
// Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n >= 1 {
			l.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry backoff window. A zero base disables sleeping.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(l *Ledger) {
		l.backoffBase = base
		l.backoffMax = maxDelay
		if l.backoffMax < l.backoffBase {
			l.backoffMax = l.backoffBase
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.logger = log
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		logger:      logger.Nop(),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Increment adds delta to the driver's balance and returns the new balance.
func (l *Ledger) Increment(ctx context.Context, driver string, delta decimal.Decimal) (decimal.Decimal, error) {
	if Account(driver) == "" {
		return decimal.Zero, ErrAccountRequired
	}
	key := AccountKey(driver)

	return compareAndRetry(ctx, l, key, func(ctx context.Context) (decimal.Decimal, error) {
		balance, _, err := l.store.Swap(ctx, key, "", func(s State) (decimal.Decimal, bool) {
			return s.Balance.Add(delta), true
		})
		return balance, err
	})
}

// Credit adds amount to the driver's balance unless rideID was credited
// before. Balance and marker are committed together, so a ride is credited
// at most once however often its event is redelivered.
func (l *Ledger) Credit(ctx context.Context, driver, rideID string, amount decimal.Decimal) (Credit, error) {
	if Account(driver) == "" {
		return Credit{}, ErrAccountRequired
	}
	if strings.TrimSpace(rideID) == "" {
		return Credit{}, ErrRideIDRequired
	}
	key := AccountKey(driver)
	marker := CreditMarkerKey(rideID)

	credit, err := compareAndRetry(ctx, l, key, func(ctx context.Context) (Credit, error) {
		balance, written, err := l.store.Swap(ctx, key, marker, func(s State) (decimal.Decimal, bool) {
			if s.Credited {
				return s.Balance, false
			}
			return s.Balance.Add(amount), true
		})
		if err != nil {
			return Credit{}, err
		}
		return Credit{Balance: balance, Applied: written}, nil
	})
	if err != nil {
		return Credit{}, err
	}

	if !credit.Applied {
		l.logger.WithFields(logger.LogFields{
			"account": key,
			"ride_id": rideID,
		}).Info("ledger_credit_skipped", "Ride already credited, balance untouched")
	}
	return credit, nil
}

// Set overrides the driver's balance. Negative values are accepted.
func (l *Ledger) Set(ctx context.Context, driver string, value decimal.Decimal) error {
	if Account(driver) == "" {
		return ErrAccountRequired
	}
	key := AccountKey(driver)
	if err := l.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	l.logger.WithFields(logger.LogFields{
		"account": key,
		"balance": value.String(),
	}).Info("ledger_balance_set", "Balance overridden")
	return nil
}

// Balance returns the driver's balance. An absent account reads as zero and
// is created with that value.
func (l *Ledger) Balance(ctx context.Context, driver string) (decimal.Decimal, error) {
	if Account(driver) == "" {
		return decimal.Zero, ErrAccountRequired
	}
	key := AccountKey(driver)

	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	if ok {
		return value, nil
	}

	created, err := l.store.SetIfAbsent(ctx, key, decimal.Zero)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: init %s: %w", ErrUnavailable, key, err)
	}
	if created {
		return decimal.Zero, nil
	}

	// Another writer created the account in between.
	value, _, err = l.store.Get(ctx, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return value, nil
}
