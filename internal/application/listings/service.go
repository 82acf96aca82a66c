package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quantumgrid-backend/internal/application/listingevents"
	"quantumgrid-backend/internal/application/pricebands"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/database"
	"quantumgrid-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the sell-side inventory. ReserveCapacity is the only path that changes capacity.
type Service struct {
	DB          *gorm.DB
	Bands       *pricebands.Service
	SourceTypes []string
	Metrics     *metrics.Metrics
}

type CreateListingInput struct {
	ListingID        *uuid.UUID
	SourceID         uuid.UUID
	SellerID         uuid.UUID
	SourceType       string
	Capacity         decimal.Decimal
	PricePerUnit     decimal.Decimal
	Region           string
	Latitude         float64
	Longitude        float64
	EfficiencyRating *decimal.Decimal
	MeterID          *string
	IntegrityHash    string
}

// Filter selects active listings. Unset fields are unconstrained; set fields are ANDed.
type Filter struct {
	Region        string
	SourceType    string
	MinPrice      *decimal.Decimal
	MaxPrice      *decimal.Decimal
	MinCapacity   *decimal.Decimal
	SellerID      *uuid.UUID
	ExcludeSeller *uuid.UUID
}

type ReserveInput struct {
	ListingID uuid.UUID
	Quantity  decimal.Decimal
	// ExpectedPrice, when set, makes the reservation fail with ErrConflict if the listing
	// has been repriced since it was read.
	ExpectedPrice *decimal.Decimal
	ActorID       *uuid.UUID
	TradeID       string
}

// Reservation is the outcome of a successful ReserveCapacity. Listing holds the row as it was
// after the decrement (Capacity == Remaining); when Exhausted the row no longer exists.
type Reservation struct {
	ListingID uuid.UUID
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
	Exhausted bool
	Listing   domain.Listing
}

type UpdatePriceInput struct {
	ListingID uuid.UUID
	SellerID  uuid.UUID
	Price     decimal.Decimal
}

func (s *Service) allowedSourceType(t domain.SourceType) bool {
	allowed := s.SourceTypes
	if len(allowed) == 0 {
		allowed = domain.DefaultSourceTypes
	}
	for _, a := range allowed {
		if string(t) == a {
			return true
		}
	}
	return false
}

func (s *Service) validateCreate(in CreateListingInput) (domain.SourceType, error) {
	if in.SellerID == uuid.Nil {
		return "", domain.NewValidationError("seller_id", "is required")
	}
	if in.SourceID == uuid.Nil {
		return "", domain.NewValidationError("source_id", "is required")
	}
	st := domain.NormalizeSourceType(in.SourceType)
	if st == "" {
		return "", domain.NewValidationError("source_type", "is required")
	}
	if !s.allowedSourceType(st) {
		return "", domain.NewValidationError("source_type", fmt.Sprintf("unsupported source type %q", in.SourceType))
	}
	if err := domain.CheckAmount("capacity", in.Capacity); err != nil {
		return "", err
	}
	if err := domain.CheckAmount("price_per_unit", in.PricePerUnit); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Region) == "" {
		return "", domain.NewValidationError("region", "is required")
	}
	if in.Latitude < -90 || in.Latitude > 90 {
		return "", domain.NewValidationError("latitude", "must be between -90 and 90")
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return "", domain.NewValidationError("longitude", "must be between -180 and 180")
	}
	if in.EfficiencyRating != nil {
		if err := domain.CheckNonNegative("efficiency_rating", *in.EfficiencyRating); err != nil {
			return "", err
		}
	}
	return st, nil
}

// CreateListing validates the listing against its region's band and inserts it with a CREATED
// event. The band is read inside the insert transaction.
func (s *Service) CreateListing(ctx context.Context, in CreateListingInput) (*domain.Listing, error) {
	st, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}
	listing := &domain.Listing{
		SourceID:         in.SourceID,
		SellerID:         in.SellerID,
		SourceType:       st,
		Capacity:         in.Capacity,
		PricePerUnit:     in.PricePerUnit,
		Status:           domain.ListingStatusActive,
		Region:           strings.TrimSpace(in.Region),
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
		EfficiencyRating: in.EfficiencyRating,
		MeterID:          in.MeterID,
	}
	if in.ListingID != nil && *in.ListingID != uuid.Nil {
		listing.ListingID = *in.ListingID
	} else {
		listing.ListingID = uuid.New()
	}
	listing.IntegrityHash = strings.TrimSpace(in.IntegrityHash)
	if listing.IntegrityHash == "" {
		listing.IntegrityHash = listing.ContentHash()
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.Bands.CheckPriceTx(tx, listing.Region, listing.PricePerUnit); err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&domain.Listing{}).
			Where("listing_id = ? OR source_id = ? OR integrity_hash = ?", listing.ListingID, listing.SourceID, listing.IntegrityHash).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%w: listing_id, source_id or integrity_hash already exists", domain.ErrDuplicateKey)
		}
		if err := tx.Create(listing).Error; err != nil {
			if database.IsDuplicateKey(err) {
				return fmt.Errorf("%w: %v", domain.ErrDuplicateKey, err)
			}
			return err
		}
		return listingevents.Record(tx, listing.ListingID, domain.ListingEventCreated, map[string]interface{}{
			"price_per_unit": listing.PricePerUnit,
			"capacity":       listing.Capacity,
			"region":         listing.Region,
			"source_type":    listing.SourceType,
		}, &listing.SellerID)
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// Query returns a snapshot of active listings matching f, ordered by creation then id.
func (s *Service) Query(ctx context.Context, f Filter) ([]domain.Listing, error) {
	q := s.DB.WithContext(ctx).Where("status = ?", domain.ListingStatusActive)
	if r := strings.TrimSpace(f.Region); r != "" {
		q = q.Where("region = ?", r)
	}
	if st := domain.NormalizeSourceType(f.SourceType); st != "" {
		q = q.Where("source_type = ?", st)
	}
	if f.MinPrice != nil {
		q = q.Where("price_per_unit >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price_per_unit <= ?", *f.MaxPrice)
	}
	if f.MinCapacity != nil {
		q = q.Where("capacity >= ?", *f.MinCapacity)
	}
	if f.SellerID != nil {
		q = q.Where("seller_id = ?", *f.SellerID)
	}
	if f.ExcludeSeller != nil {
		q = q.Where("seller_id <> ?", *f.ExcludeSeller)
	}
	var listings []domain.Listing
	if err := q.Order(`"createdAt" ASC`).Order("listing_id ASC").Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	return listings, nil
}

func (s *Service) GetListing(ctx context.Context, listingID uuid.UUID) (*domain.Listing, error) {
	return s.getTx(s.DB.WithContext(ctx), listingID)
}

func (s *Service) getTx(tx *gorm.DB, listingID uuid.UUID) (*domain.Listing, error) {
	var listing domain.Listing
	if err := tx.Where("listing_id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrListingNotFound
		}
		return nil, err
	}
	return &listing, nil
}

// GetListingTx reads a listing through tx.
func (s *Service) GetListingTx(tx *gorm.DB, listingID uuid.UUID) (*domain.Listing, error) {
	return s.getTx(tx, listingID)
}

// ReserveCapacity runs ReserveCapacityTx in its own transaction.
func (s *Service) ReserveCapacity(ctx context.Context, in ReserveInput) (*Reservation, error) {
	var res *Reservation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.ReserveCapacityTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveCapacityTx takes quantity out of a listing. The decision is a single conditional
// UPDATE (capacity >= quantity), so concurrent reservations can never over-allocate. A listing
// left with no capacity is deleted in the same transaction.
func (s *Service) ReserveCapacityTx(tx *gorm.DB, in ReserveInput) (*Reservation, error) {
	res, err := s.reserve(tx, in)
	if err != nil {
		s.Metrics.Reservation(domain.ErrorCode(err))
		return nil, err
	}
	if res.Exhausted {
		s.Metrics.Reservation("exhausted")
	} else {
		s.Metrics.Reservation("ok")
	}
	return res, nil
}

func (s *Service) reserve(tx *gorm.DB, in ReserveInput) (*Reservation, error) {
	if in.ListingID == uuid.Nil {
		return nil, domain.NewValidationError("listing_id", "is required")
	}
	if err := domain.CheckAmount("quantity", in.Quantity); err != nil {
		return nil, err
	}

	q := tx.Model(&domain.Listing{}).
		Where("listing_id = ? AND status = ? AND capacity >= ?", in.ListingID, domain.ListingStatusActive, in.Quantity)
	if in.ExpectedPrice != nil {
		q = q.Where("price_per_unit = ?", *in.ExpectedPrice)
	}
	result := q.Update("capacity", gorm.Expr("capacity - ?", in.Quantity))
	if result.Error != nil {
		return nil, fmt.Errorf("reserve capacity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.reserveFailure(tx, in)
	}

	listing, err := s.getTx(tx, in.ListingID)
	if err != nil {
		return nil, err
	}
	res := &Reservation{
		ListingID: in.ListingID,
		Quantity:  in.Quantity,
		Remaining: listing.Capacity.Round(domain.Scale),
		Listing:   *listing,
	}
	res.Listing.Capacity = res.Remaining

	eventData := map[string]interface{}{
		"quantity":  in.Quantity,
		"remaining": res.Remaining,
	}
	if in.TradeID != "" {
		eventData["trade_id"] = in.TradeID
	}
	if !res.Remaining.IsPositive() {
		res.Exhausted = true
		res.Remaining = decimal.Zero
		res.Listing.Capacity = decimal.Zero
		res.Listing.Status = domain.ListingStatusExhausted
		if err := tx.Where("listing_id = ?", in.ListingID).Delete(&domain.Listing{}).Error; err != nil {
			return nil, fmt.Errorf("remove exhausted listing: %w", err)
		}
		if err := listingevents.Record(tx, in.ListingID, domain.ListingEventExhausted, eventData, in.ActorID); err != nil {
			return nil, err
		}
		return res, nil
	}
	if err := listingevents.Record(tx, in.ListingID, domain.ListingEventReserved, eventData, in.ActorID); err != nil {
		return nil, err
	}
	return res, nil
}

// reserveFailure explains why the conditional update matched no row.
func (s *Service) reserveFailure(tx *gorm.DB, in ReserveInput) error {
	listing, err := s.getTx(tx, in.ListingID)
	if err != nil {
		return err
	}
	if listing.Status != domain.ListingStatusActive {
		return domain.ErrListingNotFound
	}
	if in.ExpectedPrice != nil && !listing.PricePerUnit.Equal(*in.ExpectedPrice) {
		return fmt.Errorf("%w: listing %s was repriced from %s to %s", domain.ErrConflict, in.ListingID, in.ExpectedPrice, listing.PricePerUnit)
	}
	return fmt.Errorf("%w: requested %s, available %s", domain.ErrInsufficientCapacity, in.Quantity, listing.Capacity)
}

// UpdatePrice reprices a listing. Only the seller may do it and the new price must sit inside
// the region's current band.
func (s *Service) UpdatePrice(ctx context.Context, in UpdatePriceInput) (*domain.Listing, error) {
	if in.ListingID == uuid.Nil {
		return nil, domain.NewValidationError("listing_id", "is required")
	}
	if err := domain.CheckAmount("price_per_unit", in.Price); err != nil {
		return nil, err
	}
	var listing *domain.Listing
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.getTx(tx, in.ListingID)
		if err != nil {
			return err
		}
		if current.SellerID != in.SellerID {
			return fmt.Errorf("%w: only the seller can edit this listing", domain.ErrForbidden)
		}
		if _, err := s.Bands.CheckPriceTx(tx, current.Region, in.Price); err != nil {
			return err
		}
		result := tx.Model(&domain.Listing{}).
			Where("listing_id = ? AND seller_id = ?", in.ListingID, in.SellerID).
			Update("price_per_unit", in.Price)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrListingNotFound
		}
		if err := listingevents.Record(tx, in.ListingID, domain.ListingEventPriceUpdated, map[string]interface{}{
			"old_price_per_unit": current.PricePerUnit,
			"new_price_per_unit": in.Price,
		}, &in.SellerID); err != nil {
			return err
		}
		listing, err = s.getTx(tx, in.ListingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// DeleteListing removes a listing. When actor is set it must be the seller.
func (s *Service) DeleteListing(ctx context.Context, listingID uuid.UUID, actor *uuid.UUID) error {
	if listingID == uuid.Nil {
		return domain.NewValidationError("listing_id", "is required")
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("listing_id = ?", listingID)
		if actor != nil {
			q = q.Where("seller_id = ?", *actor)
		}
		result := q.Delete(&domain.Listing{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if _, err := s.getTx(tx, listingID); err != nil {
				return err
			}
			return fmt.Errorf("%w: only the seller can delete this listing", domain.ErrForbidden)
		}
		return listingevents.Record(tx, listingID, domain.ListingEventDeleted, nil, actor)
	})
}
