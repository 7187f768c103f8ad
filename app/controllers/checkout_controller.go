package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/formlio/paygate/internal/pkg/apperrors"
	"github.com/formlio/paygate/internal/pkg/checkout"
)

var checkoutService *checkout.Service

// InitCheckoutController wires the checkout service into the handlers.
func InitCheckoutController(svc *checkout.Service) {
	checkoutService = svc
}

// HandleCreateCheckout creates a payment process for a user and returns the
// hosted checkout URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	input := new(checkout.CreateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	result, err := checkoutService.CreateCheckoutProcess(c.Context(), *input)
	if err != nil {
		return checkoutErrorResponse(c, err)
	}

	return c.JSON(result)
}

func checkoutErrorResponse(c *fiber.Ctx, err error) error {
	var (
		validationErr  *apperrors.ValidationError
		rateLimitErr   *apperrors.RateLimitError
		notFoundErr    *apperrors.NotFoundError
		invalidPlanErr *apperrors.InvalidPlanError
		gatewayErr     *apperrors.GatewayError
	)

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": validationErr.Error()})
	case errors.As(err, &rateLimitErr):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": rateLimitErr.Error()})
	case errors.As(err, &notFoundErr):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": notFoundErr.Error()})
	case errors.As(err, &invalidPlanErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_plan", "message": invalidPlanErr.Error()})
	case errors.As(err, &gatewayErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Payment processor is unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not create checkout"})
	}
}
