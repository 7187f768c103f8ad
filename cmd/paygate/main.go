package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/formlio/paygate/app/controllers"
	"github.com/formlio/paygate/internal/pkg/alerts"
	"github.com/formlio/paygate/internal/pkg/cache"
	"github.com/formlio/paygate/internal/pkg/checkout"
	"github.com/formlio/paygate/internal/pkg/database"
	"github.com/formlio/paygate/internal/pkg/env"
	"github.com/formlio/paygate/internal/pkg/gateway"
	"github.com/formlio/paygate/internal/pkg/notify"
	"github.com/formlio/paygate/internal/pkg/router"
	"github.com/formlio/paygate/internal/pkg/subscription"
	"github.com/formlio/paygate/internal/pkg/sweeper"
	"github.com/formlio/paygate/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	gw := gateway.NewClientFromEnv()
	alertSink := alerts.NewSink(db)
	dispatcher := notify.NewDispatcher(db)

	subscriptionService := subscription.NewService(
		subscription.NewRepository(db), gw, alertSink, dispatcher, subscription.ConfigFromEnv())
	checkoutService := checkout.NewService(
		checkout.NewRepository(db), gw, checkout.ConfigFromEnv())

	webhookCfg := webhook.ConfigFromEnv()
	var limiter webhook.Limiter
	if env.GetEnv("WEBHOOK_RATE_STORE", "memory") == "redis" {
		limiter = webhook.NewRedisWindow(webhookCfg.RatePerMinute, time.Minute, "webhook:rate")
	}
	webhookService := webhook.NewService(
		webhook.NewRepository(db), subscriptionService, alertSink, limiter, webhookCfg)

	controllers.InitCheckoutController(checkoutService)
	controllers.InitWebhookController(webhookService)

	sweep := sweeper.New(sweeper.NewRepository(db), dispatcher, sweeper.ConfigFromEnv())
	if err := sweep.Start(); err != nil {
		log.Fatalf("could not start sweeper: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "paygate",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app)

	return app
}
