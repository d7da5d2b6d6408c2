package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrContention      = errors.New("ledger contention")
	ErrUnavailable     = errors.New("ledger store unavailable")
	ErrAccountRequired = errors.New("ledger account is required")
	ErrRideIDRequired  = errors.New("ride id is required for a credit")
)

// ContentionError means every compare-and-retry attempt on Account lost
// against concurrent writers.
type ContentionError struct {
	Account  string
	Attempts int
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("ledger contention on %s: gave up after %d attempts", e.Account, e.Attempts)
}

func (e *ContentionError) Is(target error) bool { return target == ErrContention }
