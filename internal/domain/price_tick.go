package domain

import (
	"time"
)

// PriceTick is one sample from the external per-source-type price feed.
type PriceTick struct {
	Type      SourceType `json:"type"`
	Region    string     `json:"region"`
	Rate      float64    `json:"rate"`
	Timestamp time.Time  `json:"timestamp"`
	Topic     string     `json:"topic,omitempty"`
}
