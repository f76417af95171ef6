// Package vendors owns per-vendor commission rates and the platform default.
package vendors

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

var maxRate = decimal.NewFromInt(100)

// ValidateRate rejects percentages outside [0,100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 100").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	return nil
}

// RateBook resolves the commission rate of each vendor, falling back to the
// platform default when a vendor has no override.
type RateBook struct {
	defaultRate decimal.Decimal
	overrides   map[uuid.UUID]decimal.Decimal
}

// NewRateBook builds a RateBook. A nil overrides map means every vendor uses the default.
func NewRateBook(defaultRate decimal.Decimal, overrides map[uuid.UUID]decimal.Decimal) RateBook {
	if overrides == nil {
		overrides = map[uuid.UUID]decimal.Decimal{}
	}
	return RateBook{defaultRate: defaultRate, overrides: overrides}
}

// RateFor returns the vendor's rate and whether it came from an override.
func (b RateBook) RateFor(vendorID uuid.UUID) (decimal.Decimal, bool) {
	if rate, ok := b.overrides[vendorID]; ok {
		return rate, true
	}
	return b.defaultRate, false
}

func (b RateBook) Default() decimal.Decimal {
	return b.defaultRate
}
