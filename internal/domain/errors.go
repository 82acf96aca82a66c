package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for the listing, matching and settlement engine.
// The handler layer maps these to HTTP status codes and stable error codes.
var (
	ErrNotFound              = errors.New("not_found")
	ErrListingNotFound       = fmt.Errorf("listing %w", ErrNotFound)
	ErrTradeNotFound         = fmt.Errorf("trade %w", ErrNotFound)
	ErrNoPriceBand           = errors.New("no_price_band")
	ErrPriceOutOfBand        = errors.New("price_out_of_band")
	ErrInvalidRange          = errors.New("invalid_range")
	ErrInsufficientCapacity  = errors.New("insufficient_capacity")
	ErrDuplicateKey          = errors.New("duplicate_key")
	ErrDuplicateTrade        = errors.New("duplicate_trade")
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrConflict              = errors.New("conflict")
	ErrNoMatch               = errors.New("no_match")
	ErrNoEligibleListing     = errors.New("no_eligible_listing")
	ErrConsistencyFault      = errors.New("consistency_fault")
	ErrForbidden             = errors.New("forbidden")
	ErrListingSellerMismatch = errors.New("listing_seller_mismatch")
)

// ValidationError represents malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PriceOutOfBandError carries the admissible range so it can be surfaced to the caller verbatim.
type PriceOutOfBandError struct {
	Region  string
	Price   decimal.Decimal
	Minimum decimal.Decimal
	Maximum decimal.Decimal
}

func (e *PriceOutOfBandError) Error() string {
	return fmt.Sprintf("energy price must be between %s and %s for %s (got %s)",
		e.Minimum.String(), e.Maximum.String(), e.Region, e.Price.String())
}

func (e *PriceOutOfBandError) Unwrap() error {
	return ErrPriceOutOfBand
}

// ErrorCode returns the stable code for err, used in error envelopes and metric labels.
func ErrorCode(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.Is(err, ErrListingSellerMismatch):
		return ErrListingSellerMismatch.Error()
	case errors.Is(err, ErrListingNotFound):
		return "listing_not_found"
	case errors.Is(err, ErrTradeNotFound):
		return "trade_not_found"
	}
	for _, s := range []error{
		ErrNotFound, ErrNoPriceBand, ErrPriceOutOfBand, ErrInvalidRange, ErrInsufficientCapacity,
		ErrDuplicateKey, ErrDuplicateTrade, ErrInvalidTransition, ErrConflict, ErrNoMatch,
		ErrNoEligibleListing, ErrConsistencyFault, ErrForbidden,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal_error"
}
