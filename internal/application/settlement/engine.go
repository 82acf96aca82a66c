package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quantumgrid-backend/internal/application/listings"
	"quantumgrid-backend/internal/application/matching"
	"quantumgrid-backend/internal/application/pricebands"
	"quantumgrid-backend/internal/application/trades"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PathDirect  = "direct"
	PathRequest = "request"
)

// Publisher is notified after a settlement commits. Failures are logged, never returned.
type Publisher interface {
	PublishTradeSettled(ctx context.Context, t *domain.Trade) error
}

// Ledger is the append side of the trade ledger.
type Ledger interface {
	Exists(tx *gorm.DB, tradeID string) (bool, error)
	Append(tx *gorm.DB, t *domain.Trade) error
}

// Engine executes matches. Reservation and ledger append share one database transaction:
// a failed append rolls the reservation back with it.
type Engine struct {
	DB        *gorm.DB
	Bands     *pricebands.Service
	Listings  *listings.Service
	Matcher   *matching.Engine
	Ledger    Ledger
	Publisher Publisher
	Metrics   *metrics.Metrics
}

type DirectInput struct {
	TradeID       string
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	ListingID     uuid.UUID
	Quantity      decimal.Decimal
	AgreedPrice   decimal.Decimal
	PaymentStatus string
}

type PurchaseRequest struct {
	TradeID    string
	Quantity   decimal.Decimal
	MaxPrice   decimal.Decimal
	SourceType string
	Region     string
}

func normalizeTradeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return trades.NewTradeID(), nil
	}
	if len(id) > 128 {
		return "", domain.NewValidationError("trade_id", "must be at most 128 characters")
	}
	return id, nil
}

func (in *DirectInput) validate() error {
	if in.BuyerID == uuid.Nil {
		return domain.NewValidationError("buyer_id", "is required")
	}
	if in.SellerID == uuid.Nil {
		return domain.NewValidationError("seller_id", "is required")
	}
	if in.BuyerID == in.SellerID {
		return domain.NewValidationError("buyer_id", "buyer and seller must differ")
	}
	if in.ListingID == uuid.Nil {
		return domain.NewValidationError("listing_id", "is required")
	}
	if err := domain.CheckAmount("quantity", in.Quantity); err != nil {
		return err
	}
	if err := domain.CheckAmount("agreed_price", in.AgreedPrice); err != nil {
		return err
	}
	in.PaymentStatus = strings.ToLower(strings.TrimSpace(in.PaymentStatus))
	if in.PaymentStatus == "" {
		in.PaymentStatus = domain.PaymentPaid
	}
	if !domain.IsValidPaymentStatus(in.PaymentStatus) {
		return domain.NewValidationError("payment_status", "must be one of unpaid, partial, paid, failed")
	}
	id, err := normalizeTradeID(in.TradeID)
	if err != nil {
		return err
	}
	in.TradeID = id
	return nil
}

// SettleDirect completes a trade against a listing the caller already chose.
func (e *Engine) SettleDirect(ctx context.Context, in DirectInput) (*domain.Trade, error) {
	if err := in.validate(); err != nil {
		e.Metrics.Settlement(PathDirect, domain.ErrorCode(err))
		return nil, err
	}
	return e.settle(ctx, PathDirect, in.TradeID, func(tx *gorm.DB) (*domain.Trade, error) {
		listing, err := e.Listings.GetListingTx(tx, in.ListingID)
		if err != nil {
			return nil, err
		}
		if listing.SellerID != in.SellerID {
			return nil, fmt.Errorf("%w: listing %s is not offered by seller %s", domain.ErrListingSellerMismatch, in.ListingID, in.SellerID)
		}
		if _, err := e.Bands.CheckPriceTx(tx, listing.Region, in.AgreedPrice); err != nil {
			return nil, err
		}
		res, err := e.Listings.ReserveCapacityTx(tx, listings.ReserveInput{
			ListingID: in.ListingID,
			Quantity:  in.Quantity,
			ActorID:   &in.BuyerID,
			TradeID:   in.TradeID,
		})
		if err != nil {
			return nil, err
		}
		return &domain.Trade{
			TradeID:            in.TradeID,
			BuyerID:            in.BuyerID,
			SellerID:           in.SellerID,
			ListingID:          in.ListingID,
			Quantity:           in.Quantity,
			AgreedPricePerUnit: in.AgreedPrice,
			Status:             domain.TradeCompleted,
			PaymentStatus:      in.PaymentStatus,
			Region:             res.Listing.Region,
			SourceType:         res.Listing.SourceType,
		}, nil
	})
}

// SettleFromRequest matches a purchase request to the best listing and settles at that
// listing's price, after checking the price still sits inside the region's current band.
func (e *Engine) SettleFromRequest(ctx context.Context, buyerID uuid.UUID, req PurchaseRequest) (*domain.Trade, error) {
	tradeID, err := normalizeTradeID(req.TradeID)
	if err == nil && buyerID == uuid.Nil {
		err = domain.NewValidationError("buyer_id", "is required")
	}
	if err != nil {
		e.Metrics.Settlement(PathRequest, domain.ErrorCode(err))
		return nil, err
	}

	// A replayed request must report the earlier trade even when its listing is gone by now.
	// settle checks again inside the transaction for concurrent replays.
	if strings.TrimSpace(req.TradeID) != "" {
		exists, err := e.Ledger.Exists(e.DB.WithContext(ctx), tradeID)
		if err == nil && exists {
			err = fmt.Errorf("%w: %s", domain.ErrDuplicateTrade, tradeID)
		}
		if err != nil {
			e.Metrics.Settlement(PathRequest, domain.ErrorCode(err))
			return nil, err
		}
	}

	match, err := e.Matcher.FindBestMatch(ctx, matching.Request{
		Quantity:   req.Quantity,
		MaxPrice:   req.MaxPrice,
		SourceType: req.SourceType,
		Region:     req.Region,
		BuyerID:    &buyerID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoMatch) {
			err = fmt.Errorf("%w: no listing offers %s at or below %s", domain.ErrNoEligibleListing, req.Quantity, req.MaxPrice)
		}
		e.Metrics.Settlement(PathRequest, domain.ErrorCode(err))
		return nil, err
	}

	price := match.PricePerUnit
	return e.settle(ctx, PathRequest, tradeID, func(tx *gorm.DB) (*domain.Trade, error) {
		if _, err := e.Bands.CheckPriceTx(tx, match.Region, price); err != nil {
			return nil, err
		}
		if _, err := e.Listings.ReserveCapacityTx(tx, listings.ReserveInput{
			ListingID:     match.ListingID,
			Quantity:      req.Quantity,
			ExpectedPrice: &price,
			ActorID:       &buyerID,
			TradeID:       tradeID,
		}); err != nil {
			return nil, err
		}
		return &domain.Trade{
			TradeID:            tradeID,
			BuyerID:            buyerID,
			SellerID:           match.SellerID,
			ListingID:          match.ListingID,
			Quantity:           req.Quantity,
			AgreedPricePerUnit: price,
			Status:             domain.TradeCompleted,
			PaymentStatus:      domain.PaymentPaid,
			Region:             match.Region,
			SourceType:         match.SourceType,
		}, nil
	})
}

// settle runs reserve (inside plan) and append in one transaction. A trade id that already
// exists is rejected before anything is reserved.
func (e *Engine) settle(ctx context.Context, path, tradeID string, plan func(tx *gorm.DB) (*domain.Trade, error)) (trade *domain.Trade, err error) {
	defer func() {
		e.Metrics.Settlement(path, domain.ErrorCode(err))
	}()

	tx := e.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	exists, err := e.Ledger.Exists(tx, tradeID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if exists {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateTrade, tradeID)
	}

	trade, err = plan(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := e.Ledger.Append(tx, trade); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			e.Metrics.ConsistencyFault()
			log.Error().
				Bool("consistency_fault", true).
				Str("trade_id", trade.TradeID).
				Str("listing_id", trade.ListingID.String()).
				Str("quantity", trade.Quantity.String()).
				AnErr("append_error", err).
				AnErr("rollback_error", rbErr).
				Msg("settlement: trade append failed and reservation could not be rolled back")
			return nil, fmt.Errorf("%w: trade %s: append: %v; rollback: %v", domain.ErrConsistencyFault, trade.TradeID, err, rbErr)
		}
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	log.Info().
		Str("path", path).
		Str("trade_id", trade.TradeID).
		Str("listing_id", trade.ListingID.String()).
		Str("quantity", trade.Quantity.String()).
		Str("price", trade.AgreedPricePerUnit.String()).
		Msg("trade settled")

	e.publish(ctx, trade)
	return trade, nil
}

func (e *Engine) publish(ctx context.Context, t *domain.Trade) {
	if e.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.Publisher.PublishTradeSettled(pubCtx, t); err != nil {
		log.Warn().Err(err).Str("trade_id", t.TradeID).Msg("publish trade.settled failed")
	}
}
