package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"transflow/pkg/logger"
)

// compareAndRetry runs op until it stops reporting ErrConflict, sleeping a
// jittered backoff between attempts. It gives up with a *ContentionError once
// maxAttempts attempts have conflicted.
func compareAndRetry[T any](ctx context.Context, l *Ledger, account string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	log := l.logger.WithFields(logger.LogFields{"account": account})

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.WithFields(logger.LogFields{"attempt": attempt}).Debug("ledger_retry_success", "Write committed after conflicts")
			}
			return result, nil
		}
		if !errors.Is(err, ErrConflict) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return zero, err
			}
			return zero, fmt.Errorf("%w: %s: %w", ErrUnavailable, account, err)
		}

		log.WithFields(logger.LogFields{"attempt": attempt}).Debug("ledger_conflict", "Concurrent write detected, retrying")
		if attempt == l.maxAttempts {
			break
		}
		if err := sleepContext(ctx, l.backoff(attempt)); err != nil {
			return zero, err
		}
	}

	contention := &ContentionError{Account: account, Attempts: l.maxAttempts}
	log.Error("ledger_contention", contention)
	return zero, contention
}

// backoff is full jitter over an exponential window capped at backoffMax.
func (l *Ledger) backoff(attempt int) time.Duration {
	if l.backoffBase <= 0 {
		return 0
	}
	window := l.backoffMax
	if shift := attempt - 1; shift < 32 {
		if d := l.backoffBase << shift; d > 0 && d < window {
			window = d
		}
	}
	if window <= 0 {
		return 0
	}
	return rand.N(window + 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
