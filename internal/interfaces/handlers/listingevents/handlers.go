package listingevents

import (
	lesvc "quantumgrid-backend/internal/application/listingevents"
	"quantumgrid-backend/internal/middleware"
	"quantumgrid-backend/internal/pkg/response"
	"quantumgrid-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *lesvc.Service
}

// GET /api/v1/listing-events/:listing_id
func (h *Handlers) GetListingEvents(c *fiber.Ctx) error {
	id, err := validation.UUID("listing_id", c.Params("listing_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	events, err := h.Service.GetListingEvents(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing events fetched successfully", events, nil)
}

// GET /api/v1/listing-events/mine?limit=
func (h *Handlers) GetMyEvents(c *fiber.Ctx) error {
	events, err := h.Service.GetActorEvents(c.UserContext(), middleware.CurrentIdentity(c).UserID, c.QueryInt("limit", 50))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing events fetched successfully", events, nil)
}
