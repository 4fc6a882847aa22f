package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/flowstate/pkg/cmd"
	"github.com/dukex/flowstate/pkg/delegation"
	"github.com/dukex/flowstate/pkg/engine"
	"github.com/dukex/flowstate/pkg/history"
	"github.com/dukex/flowstate/pkg/log"
	"github.com/dukex/flowstate/pkg/otelhelper"
	"github.com/dukex/flowstate/pkg/tasks"
	"github.com/dukex/flowstate/pkg/timers"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "flowstate-api",
		Usage:                 "Create and manage workflow definitions, instances, tasks and delegations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for distributed instance locking (empty = in-process locks)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Flowstate API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flowstate-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(command.String("redis-url"))
			if err != nil {
				return err
			}

			tracer, err := newTracer(ctx, "flowstate-api")
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, eventBus)
			recorder := history.NewRecorder(persistence.History(), logger)
			resolver := delegation.NewResolver(persistence.Delegations(), delegation.DefaultMaxDepth, logger)
			taskManager := tasks.NewManager(persistence, resolver, registry, recorder, nil, eventBus, logger)
			scheduler := timers.NewScheduler(persistence.Timers(), logger)

			workflowEngine := engine.NewEngine(
				persistence,
				registry,
				locker,
				eventBus,
				recorder,
				taskManager,
				scheduler,
				tracer,
				logger,
			)

			api := NewAPI(logger, persistence, workflowEngine, taskManager)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newTracer(ctx context.Context, serviceName string) (trace.Tracer, error) {
	if os.Getenv("OTEL_ENABLED") == "true" {
		return otelhelper.NewTracer(ctx, serviceName)
	}

	return noop.NewTracerProvider().Tracer(serviceName), nil
}
