// Package main provides the periodic sweep process that fires due timers
// and escalates overdue tasks.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

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

func main() {
	command := &cli.Command{
		Name:                  "flowstate-sweeper",
		Usage:                 "Fire due timers and escalate overdue tasks",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often to poll for due timers and overdue tasks",
				Value:   timers.DefaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Timer action attempts before the timer is abandoned with a timer.failed event",
				Value:   timers.DefaultMaxRetries,
				Sources: cli.EnvVars("MAX_RETRIES"),
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

			logger := log.WithModule("sweeper")

			logger.InfoContext(ctx, "Initializing Flowstate sweeper")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flowstate-sweeper", logger)
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

			tracer, err := newTracer(ctx, "flowstate-sweeper")
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

			sweeper := timers.NewSweeper(
				scheduler,
				workflowEngine,
				taskManager,
				persistence,
				eventBus,
				logger,
				command.Duration("sweep-interval"),
				command.Int("max-retries"),
			)

			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
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
