package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/formlio/paygate/app/controllers"
	"github.com/formlio/paygate/internal/pkg/constants"
	"github.com/formlio/paygate/internal/pkg/middleware"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group(constants.APIV1Prefix)
	v1.Get(constants.PlansRoute, controllers.HandleListPlans)
	v1.Post(constants.CheckoutRoute, middleware.APIKeyAuth(), controllers.HandleCreateCheckout)

	// The processor authenticates with its HMAC signature, not an API key.
	v1.Post(constants.PaymentWebhookRoute, controllers.HandlePaymentWebhook)
}
