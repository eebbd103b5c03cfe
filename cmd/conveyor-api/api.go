// Package main provides the Conveyor API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/web"
)

type API struct {
	logger  *slog.Logger
	store   store.Store
	service web.ExecutionService
}

func NewAPI(logger *slog.Logger, executionStore store.Store, service web.ExecutionService) *API {
	return &API{
		logger:  logger,
		store:   executionStore,
		service: service,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.store, a.service, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Conveyor API")
	})

	e := app.Group("/executions")
	e.Get("/", handlers.ListExecutions)
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Delete("/:id", handlers.CancelExecution)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
