package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceBand is the regulator-defined admissible unit price range for a region (one row per region).
type PriceBand struct {
	Region    string          `gorm:"column:region;type:varchar(64);primaryKey" json:"region"`
	Minimum   decimal.Decimal `gorm:"column:minimum;type:decimal(18,4);not null" json:"minimum"`
	Maximum   decimal.Decimal `gorm:"column:maximum;type:decimal(18,4);not null" json:"maximum"`
	UpdatedBy *uuid.UUID      `gorm:"column:updated_by;type:uuid" json:"updated_by"`
	UpdatedAt time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (PriceBand) TableName() string {
	return "PriceBands"
}

// Contains reports whether price lies within [Minimum, Maximum], bounds inclusive.
func (b PriceBand) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(b.Minimum) && price.LessThanOrEqual(b.Maximum)
}

// Check returns a *PriceOutOfBandError when price is outside the band.
func (b PriceBand) Check(price decimal.Decimal) error {
	if b.Contains(price) {
		return nil
	}
	return &PriceOutOfBandError{
		Region:  b.Region,
		Price:   price,
		Minimum: b.Minimum,
		Maximum: b.Maximum,
	}
}
