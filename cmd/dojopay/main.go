package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tatamelab/dojopay/app/controllers"
	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/cache"
	"github.com/tatamelab/dojopay/internal/pkg/database"
	"github.com/tatamelab/dojopay/internal/pkg/env"
	"github.com/tatamelab/dojopay/internal/pkg/mercadopago"
	"github.com/tatamelab/dojopay/internal/pkg/router"
	"github.com/tatamelab/dojopay/internal/pkg/scheduler"
	"github.com/tatamelab/dojopay/internal/pkg/secrets"
	"github.com/tatamelab/dojopay/internal/pkg/services"
)

func main() {
	app, sched := NewApplication()

	sched.Start()
	defer sched.Stop()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fiberlog.Info("shutting down")
	_ = app.ShutdownWithTimeout(10 * time.Second)
}

func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	store, err := secrets.New(env.GetEnv("MASTER_ENCRYPTION_SECRET", ""))
	if err != nil {
		log.Fatalf("secret store: %v", err)
	}
	controllers.Setup(store)

	engine := services.NewBillingEngine(database.GetDB(), store)
	sched := scheduler.New(database.GetDB(), engine)

	registerWebhookAtStartup(store)

	app := fiber.New(fiber.Config{
		AppName:      "dojopay",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New(), logger.New())

	router.InstallRouter(app)

	return app, sched
}

// registerWebhookAtStartup makes sure the gateway knows our callback URL.
// Best effort: credentials may not exist yet on a fresh install.
func registerWebhookAtStartup(store *secrets.Store) {
	creds, err := models.GetActiveCredentials(database.GetDB())
	if err != nil {
		fiberlog.Warnf("webhook registration skipped, no active credentials: %v", err)
		return
	}
	if creds.WebhookURL == "" {
		return
	}
	client, err := mercadopago.NewClientFromCredentials(creds, store)
	if err != nil {
		fiberlog.Errorf("webhook registration skipped: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := client.RegisterWebhook(ctx, creds.WebhookURL, []string{"payment"}); err != nil {
		fiberlog.Errorf("webhook registration failed: %v", err)
		return
	}
	fiberlog.Infof("webhook registered at %s", creds.WebhookURL)
}
