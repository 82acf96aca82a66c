package market

import (
	"time"

	"quantumgrid-backend/internal/application/ticker"
	"quantumgrid-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Ticks *ticker.Service
}

// GET /api/v1/market/ticker: latest external rate per source type. Informational only.
func (h *Handlers) Ticker(c *fiber.Ctx) error {
	ticks, err := h.Ticks.Latest(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	meta := fiber.Map{"count": len(ticks)}
	if age, ok, err := h.Ticks.Age(c.UserContext(), time.Now()); err == nil && ok {
		meta["age_seconds"] = int64(age.Seconds())
	}
	return response.Success(c, "Ticker fetched successfully", ticks, meta)
}
