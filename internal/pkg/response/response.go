package response

import (
	"errors"

	"quantumgrid-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object.
type ErrorDetail struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

const statusSuccess = "success"
const statusError = "error"

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(fiber.StatusOK).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(fiber.StatusCreated).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error: ErrorDetail{
			Message:    message,
			StatusCode: statusCode,
			Details:    details,
		},
	})
}

// Unauthorized sends 401 with the same shape as other errors.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

// Forbidden sends 403 with the standard error format.
func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusForbidden, nil)
}

// StatusFor maps an engine error to its HTTP status.
func StatusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, domain.ErrInvalidRange):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNoPriceBand), errors.Is(err, domain.ErrPriceOutOfBand):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoMatch):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientCapacity),
		errors.Is(err, domain.ErrNoEligibleListing),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrDuplicateTrade),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrListingSellerMismatch):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// FromError writes the error envelope for err. Details always carry the stable error code;
// band rejections add the admissible range. Internal errors are logged and masked.
func FromError(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	details := map[string]interface{}{"code": domain.ErrorCode(err)}

	var ve *domain.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		details["field"] = ve.Field
	}
	var pe *domain.PriceOutOfBandError
	if errors.As(err, &pe) {
		details["region"] = pe.Region
		details["minimum"] = pe.Minimum.String()
		details["maximum"] = pe.Maximum.String()
		details["price"] = pe.Price.String()
	}

	message := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Str("code", details["code"].(string)).Msg("request failed")
		message = "Internal Server Error"
	}
	return Error(c, message, status, details)
}
