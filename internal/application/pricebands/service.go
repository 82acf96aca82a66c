package pricebands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quantumgrid-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the price band registry. Bands are replaced wholesale; the last write wins.
type Service struct {
	DB *gorm.DB
}

type SetBandInput struct {
	Region    string
	Minimum   decimal.Decimal
	Maximum   decimal.Decimal
	UpdatedBy *uuid.UUID
}

func (s *Service) GetBand(ctx context.Context, region string) (*domain.PriceBand, error) {
	return s.GetBandTx(s.DB.WithContext(ctx), region)
}

// GetBandTx reads the band through tx so callers see the value visible to their transaction.
func (s *Service) GetBandTx(tx *gorm.DB, region string) (*domain.PriceBand, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, domain.NewValidationError("region", "is required")
	}
	var band domain.PriceBand
	if err := tx.Where("region = ?", region).First(&band).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w for region %q", domain.ErrNoPriceBand, region)
		}
		return nil, err
	}
	return &band, nil
}

// CheckPriceTx fails with NoPriceBand when region has no band and with a
// *domain.PriceOutOfBandError when price lies outside it.
func (s *Service) CheckPriceTx(tx *gorm.DB, region string, price decimal.Decimal) (*domain.PriceBand, error) {
	band, err := s.GetBandTx(tx, region)
	if err != nil {
		return nil, err
	}
	if err := band.Check(price); err != nil {
		return band, err
	}
	return band, nil
}

func (s *Service) CheckPrice(ctx context.Context, region string, price decimal.Decimal) (*domain.PriceBand, error) {
	return s.CheckPriceTx(s.DB.WithContext(ctx), region, price)
}

// SetBand creates or replaces the band for a region.
func (s *Service) SetBand(ctx context.Context, in SetBandInput) (*domain.PriceBand, error) {
	region := strings.TrimSpace(in.Region)
	if region == "" {
		return nil, domain.NewValidationError("region", "is required")
	}
	if len(region) > 64 {
		return nil, domain.NewValidationError("region", "must be at most 64 characters")
	}
	if in.Minimum.IsNegative() || in.Maximum.IsNegative() {
		return nil, fmt.Errorf("%w: bounds must not be negative", domain.ErrInvalidRange)
	}
	if in.Minimum.GreaterThan(in.Maximum) {
		return nil, fmt.Errorf("%w: minimum %s is greater than maximum %s", domain.ErrInvalidRange, in.Minimum, in.Maximum)
	}
	if err := domain.CheckNonNegative("minimum", in.Minimum); err != nil {
		return nil, err
	}
	if err := domain.CheckNonNegative("maximum", in.Maximum); err != nil {
		return nil, err
	}

	band := &domain.PriceBand{
		Region:    region,
		Minimum:   in.Minimum,
		Maximum:   in.Maximum,
		UpdatedBy: in.UpdatedBy,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "region"}},
		DoUpdates: clause.AssignmentColumns([]string{"minimum", "maximum", "updated_by", "updatedAt"}),
	}).Create(band).Error
	if err != nil {
		return nil, fmt.Errorf("set price band: %w", err)
	}
	return band, nil
}

// ListBands returns every band ordered by region.
func (s *Service) ListBands(ctx context.Context) ([]domain.PriceBand, error) {
	var bands []domain.PriceBand
	if err := s.DB.WithContext(ctx).Order("region ASC").Find(&bands).Error; err != nil {
		return nil, err
	}
	return bands, nil
}
