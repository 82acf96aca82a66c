package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ListingStatusActive    = "active"
	ListingStatusExhausted = "exhausted"
)

// SourceType is the energy source of a listing (solar, wind, ...). The set is configurable.
type SourceType string

// NormalizeSourceType lower-cases and trims so "SOLAR" and "solar" are the same type.
func NormalizeSourceType(s string) SourceType {
	return SourceType(strings.ToLower(strings.TrimSpace(s)))
}

// DefaultSourceTypes is used when SOURCE_TYPES is not configured.
var DefaultSourceTypes = []string{"solar", "wind", "hydro", "biomass", "tides"}

// Listing is a seller's standing offer of energy capacity at a fixed unit price.
// Exhausted listings are deleted rather than archived; ListingEvents keep their history.
type Listing struct {
	ListingID        uuid.UUID        `gorm:"column:listing_id;type:uuid;primaryKey" json:"listing_id"`
	SourceID         uuid.UUID        `gorm:"column:source_id;type:uuid;not null;uniqueIndex" json:"source_id"`
	SellerID         uuid.UUID        `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	SourceType       SourceType       `gorm:"column:source_type;type:varchar(32);not null;index" json:"source_type"`
	Capacity         decimal.Decimal  `gorm:"column:capacity;type:decimal(18,4);not null" json:"capacity"`
	PricePerUnit     decimal.Decimal  `gorm:"column:price_per_unit;type:decimal(18,4);not null" json:"price_per_unit"`
	Status           string           `gorm:"column:status;type:varchar(20);not null;default:'active'" json:"status"`
	Region           string           `gorm:"column:region;type:varchar(64);not null;index" json:"region"`
	Latitude         float64          `gorm:"column:latitude;not null" json:"latitude"`
	Longitude        float64          `gorm:"column:longitude;not null" json:"longitude"`
	EfficiencyRating *decimal.Decimal `gorm:"column:efficiency_rating;type:decimal(18,4)" json:"efficiency_rating"`
	MeterID          *string          `gorm:"column:meter_id" json:"meter_id"`
	IntegrityHash    string           `gorm:"column:integrity_hash;type:varchar(128);not null;uniqueIndex" json:"integrity_hash"`
	CreatedAt        time.Time        `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time        `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Listing) TableName() string {
	return "EnergyListings"
}

// BeforeCreate sets listing_id if not already set (DBs without default uuid).
func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ListingID == uuid.Nil {
		l.ListingID = uuid.New()
	}
	return nil
}

// ContentHash derives the tamper-evidence token from the listing content.
// It must be called after ListingID is assigned.
func (l *Listing) ContentHash() string {
	b, _ := json.Marshal(map[string]interface{}{
		"listing_id":     l.ListingID.String(),
		"source_id":      l.SourceID.String(),
		"seller_id":      l.SellerID.String(),
		"source_type":    string(l.SourceType),
		"capacity":       l.Capacity.String(),
		"price_per_unit": l.PricePerUnit.String(),
		"region":         l.Region,
		"location":       [2]float64{l.Latitude, l.Longitude},
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
