// Package main provides the Herald API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/ledger"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/services"
	"github.com/heraldkit/herald/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	ledger   ledger.Ledger
	eventBus eventbus.EventBus
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	execLedger ledger.Ledger,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		ledger:   execLedger,
		eventBus: eventBus,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	scheduleService := services.NewSchedule(a.store, a.logger)
	workflowService := services.NewWorkflow(a.store, a.logger)
	triggerService := services.NewTrigger(a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(scheduleService, workflowService, triggerService, a.ledger, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Herald API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
