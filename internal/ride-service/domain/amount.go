package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MaxAmountScale is the most decimal places a monetary amount may carry.
	MaxAmountScale = 8
	// MaxAmountIntegerDigits bounds the integer part of a monetary amount.
	MaxAmountIntegerDigits = 12

	maxCoefficientBits = 63
)

var ErrAmountOutOfRange = errors.New("amount out of range")

// ValidateAmount rejects amounts whose scale or magnitude no fare or balance
// can have. It only inspects the exponent and the coefficient size, so it is
// cheap even for inputs like 1e20000000 whose decimal text would be huge.
func ValidateAmount(amount decimal.Decimal) error {
	exp := int64(amount.Exponent())
	if exp < -MaxAmountScale {
		return fmt.Errorf("%w: more than %d decimal places", ErrAmountOutOfRange, MaxAmountScale)
	}
	if exp > MaxAmountIntegerDigits {
		return fmt.Errorf("%w: more than %d integer digits", ErrAmountOutOfRange, MaxAmountIntegerDigits)
	}

	coefficient := amount.Coefficient()
	if coefficient.BitLen() > maxCoefficientBits {
		return fmt.Errorf("%w: too many significant digits", ErrAmountOutOfRange)
	}
	digits := int64(len(coefficient.Text(10)))
	if coefficient.Sign() < 0 {
		digits--
	}
	if digits+exp > MaxAmountIntegerDigits {
		return fmt.Errorf("%w: more than %d integer digits", ErrAmountOutOfRange, MaxAmountIntegerDigits)
	}
	return nil
}
