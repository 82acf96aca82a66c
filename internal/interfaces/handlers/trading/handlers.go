package trading

import (
	"fmt"

	"quantumgrid-backend/internal/application/matching"
	"quantumgrid-backend/internal/application/settlement"
	tradesvc "quantumgrid-backend/internal/application/trades"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/middleware"
	"quantumgrid-backend/internal/pkg/response"
	"quantumgrid-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Settlement *settlement.Engine
	Matcher    *matching.Engine
	Trades     *tradesvc.Service
}

type matchBody struct {
	Quantity   *decimal.Decimal `json:"quantity" validate:"required"`
	MaxPrice   *decimal.Decimal `json:"max_price" validate:"required"`
	SourceType string           `json:"source_type" validate:"omitempty,max=32"`
	Region     string           `json:"region" validate:"omitempty,max=64"`
}

type purchaseRequestBody struct {
	TradeID string `json:"trade_id" validate:"omitempty,max=128"`
	matchBody
}

type executeBody struct {
	TradeID       string           `json:"trade_id" validate:"omitempty,max=128"`
	BuyerID       string           `json:"buyer_id" validate:"required,uuid"`
	SellerID      string           `json:"seller_id" validate:"required,uuid"`
	ListingID     string           `json:"listing_id" validate:"required,uuid"`
	Quantity      *decimal.Decimal `json:"quantity" validate:"required"`
	AgreedPrice   *decimal.Decimal `json:"agreed_price" validate:"required"`
	PaymentStatus string           `json:"payment_status" validate:"omitempty,oneof=unpaid partial paid failed"`
}

type listQuery struct {
	Role       string `query:"role" validate:"omitempty,oneof=buyer seller both"`
	Status     string `query:"status" validate:"omitempty,max=20"`
	Vocabulary string `query:"vocabulary" validate:"omitempty,oneof=lifecycle dispute"`
	Page       int    `query:"page" validate:"omitempty,min=1"`
	Limit      int    `query:"limit" validate:"omitempty,min=1"`
}

type statusBody struct {
	Status string  `json:"status" validate:"required"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return domain.NewValidationError("", "Invalid request body")
	}
	return validation.Struct(out)
}

// POST /api/v1/trading/match: preview only, nothing is reserved.
func (h *Handlers) Match(c *fiber.Ctx) error {
	var body matchBody
	if err := parseBody(c, &body); err != nil {
		return response.FromError(c, err)
	}
	me := middleware.CurrentIdentity(c).UserID
	listing, err := h.Matcher.FindBestMatch(c.UserContext(), matching.Request{
		Quantity:   *body.Quantity,
		MaxPrice:   *body.MaxPrice,
		SourceType: body.SourceType,
		Region:     body.Region,
		BuyerID:    &me,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Match found", fiber.Map{
		"listing":     listing,
		"quantity":    body.Quantity,
		"total_price": body.Quantity.Mul(listing.PricePerUnit),
	}, nil)
}

// POST /api/v1/trading/requests
func (h *Handlers) SubmitPurchaseRequest(c *fiber.Ctx) error {
	var body purchaseRequestBody
	if err := parseBody(c, &body); err != nil {
		return response.FromError(c, err)
	}
	trade, err := h.Settlement.SettleFromRequest(c.UserContext(), middleware.CurrentIdentity(c).UserID, settlement.PurchaseRequest{
		TradeID:    body.TradeID,
		Quantity:   *body.Quantity,
		MaxPrice:   *body.MaxPrice,
		SourceType: body.SourceType,
		Region:     body.Region,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Trade settled successfully", trade, fiber.Map{"total": trade.Total()})
}

// POST /api/v1/trading/execute: the seller completes a trade agreed off-platform, so the caller
// must be the seller named in the body. The agreed price and payment flag are the seller's word.
func (h *Handlers) ExecuteDirectTrade(c *fiber.Ctx) error {
	var body executeBody
	if err := parseBody(c, &body); err != nil {
		return response.FromError(c, err)
	}
	in := settlement.DirectInput{
		TradeID:       body.TradeID,
		BuyerID:       uuid.MustParse(body.BuyerID),
		SellerID:      uuid.MustParse(body.SellerID),
		ListingID:     uuid.MustParse(body.ListingID),
		Quantity:      *body.Quantity,
		AgreedPrice:   *body.AgreedPrice,
		PaymentStatus: body.PaymentStatus,
	}
	me := middleware.CurrentIdentity(c).UserID
	if me != in.SellerID {
		return response.FromError(c, fmt.Errorf("%w: only the seller can complete a direct trade", domain.ErrForbidden))
	}
	trade, err := h.Settlement.SettleDirect(c.UserContext(), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Trade executed successfully", trade, fiber.Map{"total": trade.Total()})
}

// GET /api/v1/trading/trades?role&status&vocabulary&page&limit
func (h *Handlers) ListTrades(c *fiber.Ctx) error {
	var q listQuery
	if err := c.QueryParser(&q); err != nil {
		return response.FromError(c, domain.NewValidationError("", "Invalid query parameters"))
	}
	if err := validation.Struct(q); err != nil {
		return response.FromError(c, err)
	}
	page, err := h.Trades.ListForUser(c.UserContext(), tradesvc.ListFilter{
		UserID:     middleware.CurrentIdentity(c).UserID,
		Role:       q.Role,
		Status:     q.Status,
		Vocabulary: domain.Vocabulary(q.Vocabulary),
		Page:       q.Page,
		Limit:      q.Limit,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Trades fetched successfully", page.Trades, fiber.Map{
		"total":       page.Total,
		"page":        page.Page,
		"limit":       page.Limit,
		"total_pages": page.TotalPages,
	})
}

// GET /api/v1/trading/trades/:trade_id
func (h *Handlers) GetTrade(c *fiber.Ctx) error {
	trade, err := h.Trades.GetTradeForUser(c.UserContext(), c.Params("trade_id"), middleware.CurrentIdentity(c).UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Trade fetched successfully", trade, fiber.Map{"total": trade.Total()})
}

// PATCH /api/v1/trading/trades/:trade_id/status
func (h *Handlers) UpdateDisputeStatus(c *fiber.Ctx) error {
	return h.updateStatus(c, domain.VocabularyDispute)
}

// PATCH /api/v1/trading/trades/:trade_id/lifecycle
func (h *Handlers) UpdateLifecycleStatus(c *fiber.Ctx) error {
	return h.updateStatus(c, domain.VocabularyLifecycle)
}

func (h *Handlers) updateStatus(c *fiber.Ctx, vocab domain.Vocabulary) error {
	var body statusBody
	if err := parseBody(c, &body); err != nil {
		return response.FromError(c, err)
	}
	trade, err := h.Trades.UpdateStatus(c.UserContext(), tradesvc.UpdateStatusInput{
		TradeID:    c.Params("trade_id"),
		Actor:      middleware.CurrentIdentity(c).UserID,
		Vocabulary: vocab,
		Status:     body.Status,
		Reason:     body.Reason,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Trade status updated successfully", trade, nil)
}
