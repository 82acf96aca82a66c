package trades

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/database"
	"quantumgrid-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleBoth   = "both"
)

// Service is the trade ledger. Rows are only ever inserted by Append; afterwards only the status
// fields change, through UpdateStatus.
type Service struct {
	DB      *gorm.DB
	Metrics *metrics.Metrics
}

// ListFilter selects a user's trades. Status is a term of Vocabulary, lifecycle when unset.
type ListFilter struct {
	UserID     uuid.UUID
	Role       string
	Status     string
	Vocabulary domain.Vocabulary
	Page       int
	Limit      int
}

type Page struct {
	Trades     []domain.Trade `json:"trades"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

type UpdateStatusInput struct {
	TradeID    string
	Actor      uuid.UUID
	Vocabulary domain.Vocabulary
	Status     string
	Reason     *string
}

// Exists reports whether a trade id has already been used.
func (s *Service) Exists(tx *gorm.DB, tradeID string) (bool, error) {
	var n int64
	if err := tx.Model(&domain.Trade{}).Where("trade_id = ?", tradeID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Append inserts t through tx. The primary key decides between concurrent writers of the same
// trade id; the loser gets ErrDuplicateTrade.
func (s *Service) Append(tx *gorm.DB, t *domain.Trade) error {
	if strings.TrimSpace(t.TradeID) == "" {
		return domain.NewValidationError("trade_id", "is required")
	}
	if !t.Status.Valid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown trade status %q", t.Status))
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = domain.PaymentUnpaid
	}
	if !domain.IsValidPaymentStatus(t.PaymentStatus) {
		return domain.NewValidationError("payment_status", fmt.Sprintf("unknown payment status %q", t.PaymentStatus))
	}
	if err := tx.Create(t).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTrade, t.TradeID)
		}
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

func (s *Service) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	var t domain.Trade
	if err := s.DB.WithContext(ctx).Where("trade_id = ?", tradeID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetTradeForUser returns the trade only when user took part in it.
func (s *Service) GetTradeForUser(ctx context.Context, tradeID string, user uuid.UUID) (*domain.Trade, error) {
	t, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(user) {
		return nil, fmt.Errorf("%w: not a party to this trade", domain.ErrForbidden)
	}
	return t, nil
}

// ListForUser pages through the user's trades, newest first.
func (s *Service) ListForUser(ctx context.Context, f ListFilter) (*Page, error) {
	if f.UserID == uuid.Nil {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}

	q := s.DB.WithContext(ctx).Model(&domain.Trade{})
	switch strings.ToLower(f.Role) {
	case RoleBuyer:
		q = q.Where("buyer_id = ?", f.UserID)
	case RoleSeller:
		q = q.Where("seller_id = ?", f.UserID)
	case "", RoleBoth:
		q = q.Where("buyer_id = ? OR seller_id = ?", f.UserID, f.UserID)
	default:
		return nil, domain.NewValidationError("role", "must be buyer, seller or both")
	}
	if f.Status != "" {
		vocab := f.Vocabulary
		if vocab == "" {
			vocab = domain.VocabularyLifecycle
		}
		st, err := domain.ParseTradeStatus(vocab, f.Status)
		if err != nil {
			return nil, err
		}
		q = q.Where("status = ?", st)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	var trades []domain.Trade
	if err := q.Order(`"createdAt" DESC`).Order("trade_id ASC").
		Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&trades).Error; err != nil {
		return nil, err
	}
	totalPages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	return &Page{Trades: trades, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: totalPages}, nil
}

// UpdateStatus moves a trade one hop along the status machine. The write is conditional on the
// status read, so a concurrent update makes this one fail with ErrConflict.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*domain.Trade, error) {
	target, err := domain.ParseTradeStatus(in.Vocabulary, in.Status)
	if err != nil {
		return nil, err
	}
	current, err := s.GetTrade(ctx, in.TradeID)
	if err != nil {
		return nil, err
	}
	if !current.IsParty(in.Actor) {
		return nil, fmt.Errorf("%w: not a party to this trade", domain.ErrForbidden)
	}
	if current.Status.Terminal() {
		vocab, term := current.Status.External()
		return nil, fmt.Errorf("%w: trade is already %s (%s)", domain.ErrInvalidTransition, term, vocab)
	}
	if !current.Status.CanTransition(target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, target)
	}

	updates := map[string]interface{}{
		"status":    target,
		"updatedAt": time.Now().UTC(),
	}
	if in.Reason != nil {
		updates["status_reason"] = strings.TrimSpace(*in.Reason)
	}
	result := s.DB.WithContext(ctx).Model(&domain.Trade{}).
		Where("trade_id = ? AND status = ?", in.TradeID, current.Status).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: trade %s changed concurrently", domain.ErrConflict, in.TradeID)
	}
	s.Metrics.StatusUpdate(string(target))
	return s.GetTrade(ctx, in.TradeID)
}

// NewTradeID returns a system-generated trade id.
func NewTradeID() string {
	return uuid.NewString()
}
