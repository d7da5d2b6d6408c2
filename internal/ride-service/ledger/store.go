package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrConflict is returned by Store.Swap when a watched key changed between
// the read and the conditional write. The ledger retries on it.
var ErrConflict = errors.New("ledger store: concurrent modification")

// State is the snapshot a Mutation works on.
type State struct {
	Balance  decimal.Decimal
	Exists   bool
	Credited bool // the marker passed to Swap is already set
}

// Mutation computes the new balance from an observed State. Returning false
// leaves the store untouched.
type Mutation func(State) (decimal.Decimal, bool)

// Store is the interface (port) for balance persistence
type Store interface {
	// Get returns the balance stored under key; ok is false when absent
	Get(ctx context.Context, key string) (value decimal.Decimal, ok bool, err error)

	// Set overwrites key unconditionally
	Set(ctx context.Context, key string, value decimal.Decimal) error

	// SetIfAbsent writes value only when key does not exist yet
	SetIfAbsent(ctx context.Context, key string, value decimal.Decimal) (bool, error)

	// Swap reads key (and marker when not empty), applies fn and commits the
	// result together with the marker in one conditional write. It fails with
	// ErrConflict when either key changed in between. The returned balance is
	// the committed value, or the observed one when fn declined to write.
	Swap(ctx context.Context, key, marker string, fn Mutation) (balance decimal.Decimal, written bool, err error)
}
