package listings

import (
	listsvc "quantumgrid-backend/internal/application/listings"
	"quantumgrid-backend/internal/middleware"
	"quantumgrid-backend/internal/pkg/response"
	"quantumgrid-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	Service *listsvc.Service
}

type createListingBody struct {
	ListingID        string           `json:"listing_id" validate:"omitempty,uuid"`
	SourceID         string           `json:"source_id" validate:"required,uuid"`
	SourceType       string           `json:"source_type" validate:"required,max=32"`
	Capacity         *decimal.Decimal `json:"capacity" validate:"required"`
	PricePerUnit     *decimal.Decimal `json:"price_per_unit" validate:"required"`
	Region           string           `json:"region" validate:"required,max=64"`
	Latitude         *float64         `json:"latitude" validate:"required"`
	Longitude        *float64         `json:"longitude" validate:"required"`
	EfficiencyRating *decimal.Decimal `json:"efficiency_rating"`
	MeterID          *string          `json:"meter_id" validate:"omitempty,max=64"`
	IntegrityHash    string           `json:"integrity_hash" validate:"omitempty,max=128"`
}

type updatePriceBody struct {
	PricePerUnit *decimal.Decimal `json:"price_per_unit" validate:"required"`
}

// POST /api/v1/listings/offers
func (h *Handlers) CreateListing(c *fiber.Ctx) error {
	var body createListingBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if err := validation.Struct(body); err != nil {
		return response.FromError(c, err)
	}
	in := listsvc.CreateListingInput{
		SourceID:         uuid.MustParse(body.SourceID),
		SellerID:         middleware.CurrentIdentity(c).UserID,
		SourceType:       body.SourceType,
		Capacity:         *body.Capacity,
		PricePerUnit:     *body.PricePerUnit,
		Region:           body.Region,
		Latitude:         *body.Latitude,
		Longitude:        *body.Longitude,
		EfficiencyRating: body.EfficiencyRating,
		MeterID:          body.MeterID,
		IntegrityHash:    body.IntegrityHash,
	}
	if body.ListingID != "" {
		id := uuid.MustParse(body.ListingID)
		in.ListingID = &id
	}
	listing, err := h.Service.CreateListing(c.UserContext(), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Listing created successfully", listing, nil)
}

// GET /api/v1/listings/marketplace
func (h *Handlers) Marketplace(c *fiber.Ctx) error {
	f := listsvc.Filter{
		Region:     c.Query("region"),
		SourceType: c.Query("source_type"),
	}
	var err error
	if f.MinPrice, err = validation.OptionalDecimal("min_price", c.Query("min_price")); err != nil {
		return response.FromError(c, err)
	}
	if f.MaxPrice, err = validation.OptionalDecimal("max_price", c.Query("max_price")); err != nil {
		return response.FromError(c, err)
	}
	if f.MinCapacity, err = validation.OptionalDecimal("min_capacity", c.Query("min_capacity")); err != nil {
		return response.FromError(c, err)
	}
	listings, err := h.Service.Query(c.UserContext(), f)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listings fetched successfully", listings, fiber.Map{"count": len(listings)})
}

// GET /api/v1/listings/my-offers
func (h *Handlers) MyOffers(c *fiber.Ctx) error {
	me := middleware.CurrentIdentity(c).UserID
	listings, err := h.Service.Query(c.UserContext(), listsvc.Filter{SellerID: &me})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Seller listings fetched successfully", listings, fiber.Map{"count": len(listings)})
}

// GET /api/v1/listings/offers/:listing_id
func (h *Handlers) GetListing(c *fiber.Ctx) error {
	id, err := validation.UUID("listing_id", c.Params("listing_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	listing, err := h.Service.GetListing(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing fetched successfully", listing, nil)
}

// PUT /api/v1/listings/offers/:listing_id
func (h *Handlers) UpdatePrice(c *fiber.Ctx) error {
	id, err := validation.UUID("listing_id", c.Params("listing_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	var body updatePriceBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if err := validation.Struct(body); err != nil {
		return response.FromError(c, err)
	}
	listing, err := h.Service.UpdatePrice(c.UserContext(), listsvc.UpdatePriceInput{
		ListingID: id,
		SellerID:  middleware.CurrentIdentity(c).UserID,
		Price:     *body.PricePerUnit,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing price updated successfully", listing, nil)
}

// DELETE /api/v1/listings/offers/:listing_id
func (h *Handlers) DeleteListing(c *fiber.Ctx) error {
	id, err := validation.UUID("listing_id", c.Params("listing_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	me := middleware.CurrentIdentity(c).UserID
	if err := h.Service.DeleteListing(c.UserContext(), id, &me); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing deleted successfully", fiber.Map{"listing_id": id}, nil)
}
