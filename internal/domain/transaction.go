package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentUnpaid  = "unpaid"
	PaymentPartial = "partial"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// IsValidPaymentStatus returns true if s is one of the payment status values.
func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentUnpaid, PaymentPartial, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// Trade is the durable record of an executed trade. Only Status, StatusReason and UpdatedAt
// change after the row is written. ListingID is a weak reference: the listing may be gone.
type Trade struct {
	TradeID            string          `gorm:"column:trade_id;type:varchar(128);primaryKey" json:"trade_id"`
	BuyerID            uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;index" json:"buyer_id"`
	SellerID           uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	ListingID          uuid.UUID       `gorm:"column:listing_id;type:uuid;not null" json:"listing_id"`
	Quantity           decimal.Decimal `gorm:"column:quantity;type:decimal(18,4);not null" json:"quantity"`
	AgreedPricePerUnit decimal.Decimal `gorm:"column:agreed_price_per_unit;type:decimal(18,4);not null" json:"agreed_price_per_unit"`
	Status             TradeStatus     `gorm:"column:status;type:varchar(20);not null" json:"status"`
	StatusReason       *string         `gorm:"column:status_reason" json:"status_reason"`
	PaymentStatus      string          `gorm:"column:payment_status;type:varchar(20);not null;default:'unpaid'" json:"payment_status"`
	Region             string          `gorm:"column:region;type:varchar(64)" json:"region"`
	SourceType         SourceType      `gorm:"column:source_type;type:varchar(32)" json:"source_type"`
	CreatedAt          time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt          time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Trade) TableName() string {
	return "Trades"
}

// Total is quantity * agreed price.
func (t Trade) Total() decimal.Decimal {
	return t.Quantity.Mul(t.AgreedPricePerUnit)
}

// IsParty reports whether user is the buyer or the seller.
func (t Trade) IsParty(user uuid.UUID) bool {
	return user != uuid.Nil && (t.BuyerID == user || t.SellerID == user)
}

// MarshalJSON renders the status in the caller's vocabulary, with status_vocabulary saying
// which one, so the canonical "finalized" never reaches the API.
func (t Trade) MarshalJSON() ([]byte, error) {
	type plain Trade
	vocab, term := t.Status.External()
	return json.Marshal(struct {
		plain
		Status           string     `json:"status"`
		StatusVocabulary Vocabulary `json:"status_vocabulary"`
	}{plain: plain(t), Status: term, StatusVocabulary: vocab})
}
