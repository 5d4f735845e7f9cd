package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/tatamelab/dojopay/app/controllers"
	"github.com/tatamelab/dojopay/internal/pkg/constants"
	"github.com/tatamelab/dojopay/internal/pkg/env"
	"github.com/tatamelab/dojopay/internal/pkg/middleware"
)

type AdminRouter struct {
}

func NewAdminRouter() *AdminRouter {
	return &AdminRouter{}
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := app.Group(constants.AdminGroup, middleware.AdminAPIKeyMiddleware())

	admin.Get(constants.EntitlementRoute, controllers.HandleGetEntitlement)
	admin.Post("/users/trial", controllers.HandleGrantTrial)

	admin.Get("/credentials", controllers.HandleListCredentials)
	admin.Post("/credentials", controllers.HandleCreateCredentials)
	admin.Post("/credentials/:id/activate", controllers.HandleActivateCredentials)

	// Fiber monitor behind basic auth, same credentials as the env.
	monitorUser := env.GetEnv("MONITOR_USER", "")
	monitorPass := env.GetEnv("MONITOR_PASSWORD", "")
	if monitorUser != "" && monitorPass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{monitorUser: monitorPass},
		}), monitor.New(monitor.Config{Title: "dojopay metrics"}))
	}
}
