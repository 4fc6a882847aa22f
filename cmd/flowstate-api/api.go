// Package main provides the flowstate API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/flowstate/pkg/engine"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/tasks"
	"github.com/dukex/flowstate/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	tasks       *tasks.Manager
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	workflowEngine *engine.Engine,
	taskManager *tasks.Manager,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      workflowEngine,
		tasks:       taskManager,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.engine, a.tasks, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowstate API")
	})

	d := app.Group("/definitions")
	d.Post("/", handlers.CreateDefinition)
	d.Get("/", handlers.GetDefinitions)
	d.Get("/:id", handlers.GetDefinition)
	d.Post("/:id/deactivate", handlers.DeactivateDefinition)

	w := app.Group("/workflows")
	w.Post("/", handlers.StartWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Get("/:id/transitions", handlers.GetAvailableTransitions)
	w.Post("/:id/transitions/:name", handlers.ApplyTransition)
	w.Post("/:id/unlock", handlers.UnlockWorkflow)
	w.Get("/:id/history", handlers.GetWorkflowHistory)

	t := app.Group("/tasks")
	t.Get("/", handlers.GetTasks)
	t.Post("/:id/complete", handlers.CompleteTask)

	dl := app.Group("/delegations")
	dl.Post("/", handlers.CreateDelegation)
	dl.Get("/", handlers.GetDelegations)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
