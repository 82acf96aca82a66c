package domain

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for capacities and prices (decimal(18,4) columns).
const Scale = 4

// CheckAmount validates a quantity or price coming from the boundary. It must be strictly positive
// and carry at most Scale fractional digits; extra precision is rejected rather than rounded.
func CheckAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return NewValidationError(field, "must be a positive number")
	}
	if !d.Equal(d.Round(Scale)) {
		return NewValidationError(field, "must have at most 4 decimal places")
	}
	return nil
}

// CheckNonNegative validates a band bound or other value that may be zero.
func CheckNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return NewValidationError(field, "must not be negative")
	}
	if !d.Equal(d.Round(Scale)) {
		return NewValidationError(field, "must have at most 4 decimal places")
	}
	return nil
}
