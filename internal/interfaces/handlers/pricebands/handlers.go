package pricebands

import (
	"errors"

	bandsvc "quantumgrid-backend/internal/application/pricebands"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/middleware"
	"quantumgrid-backend/internal/pkg/response"
	"quantumgrid-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *bandsvc.Service
}

type setBandBody struct {
	Minimum *decimal.Decimal `json:"minimum" validate:"required"`
	Maximum *decimal.Decimal `json:"maximum" validate:"required"`
}

// PUT /api/v1/price-bands/:region
func (h *Handlers) SetBand(c *fiber.Ctx) error {
	var body setBandBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if err := validation.Struct(body); err != nil {
		return response.FromError(c, err)
	}
	me := middleware.CurrentIdentity(c).UserID
	band, err := h.Service.SetBand(c.UserContext(), bandsvc.SetBandInput{
		Region:    c.Params("region"),
		Minimum:   *body.Minimum,
		Maximum:   *body.Maximum,
		UpdatedBy: &me,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Price band updated successfully", band, nil)
}

// GET /api/v1/price-bands/:region: a region without a band is a 404 here, unlike on
// the write paths where it rejects the price.
func (h *Handlers) GetBand(c *fiber.Ctx) error {
	band, err := h.Service.GetBand(c.UserContext(), c.Params("region"))
	if errors.Is(err, domain.ErrNoPriceBand) {
		return response.Error(c, err.Error(), fiber.StatusNotFound, fiber.Map{"code": domain.ErrorCode(err)})
	}
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Price band fetched successfully", band, nil)
}

// GET /api/v1/price-bands
func (h *Handlers) ListBands(c *fiber.Ctx) error {
	bands, err := h.Service.ListBands(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Price bands fetched successfully", bands, nil)
}
