package matching

import (
	"context"
	"sort"
	"strings"
	"time"

	"quantumgrid-backend/internal/application/listings"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListingQuerier is the read side of the listing store.
type ListingQuerier interface {
	Query(ctx context.Context, f listings.Filter) ([]domain.Listing, error)
}

// Engine picks the single cheapest listing able to fill a request. It never mutates state.
type Engine struct {
	Listings ListingQuerier
	Metrics  *metrics.Metrics
}

type Request struct {
	Quantity   decimal.Decimal
	MaxPrice   decimal.Decimal
	SourceType string
	Region     string
	// BuyerID keeps a buyer from being matched against their own listings.
	BuyerID *uuid.UUID
}

func (r Request) Validate() error {
	if err := domain.CheckAmount("quantity", r.Quantity); err != nil {
		return err
	}
	return domain.CheckAmount("max_price", r.MaxPrice)
}

// FindBestMatch returns the best eligible listing or domain.ErrNoMatch.
func (e *Engine) FindBestMatch(ctx context.Context, req Request) (*domain.Listing, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.Metrics.ObserveMatch(start)

	qty, maxPrice := req.Quantity, req.MaxPrice
	candidates, err := e.Listings.Query(ctx, listings.Filter{
		Region:        strings.TrimSpace(req.Region),
		SourceType:    req.SourceType,
		MaxPrice:      &maxPrice,
		MinCapacity:   &qty,
		ExcludeSeller: req.BuyerID,
	})
	if err != nil {
		return nil, err
	}
	best, ok := SelectBest(candidates)
	if !ok {
		return nil, domain.ErrNoMatch
	}
	return best, nil
}

// SelectBest orders by price, then creation time, then listing id, and returns the first.
// The input slice is not modified.
func SelectBest(candidates []domain.Listing) (*domain.Listing, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	sorted := make([]domain.Listing, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})
	best := sorted[0]
	return &best, true
}

func less(a, b domain.Listing) bool {
	if c := a.PricePerUnit.Cmp(b.PricePerUnit); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.ListingID.String(), b.ListingID.String()) < 0
}
