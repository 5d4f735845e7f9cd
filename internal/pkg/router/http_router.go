package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tatamelab/dojopay/app/controllers"
	"github.com/tatamelab/dojopay/internal/pkg/constants"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// Trailing-slash path matches the registration stored at the gateway.
	app.Post(constants.WebhookRoute, controllers.HandleGatewayWebhook)
	app.Post("/payments/webhook", controllers.HandleGatewayWebhook)
	app.Post(constants.CheckoutRoute, controllers.HandleCheckout)
}
