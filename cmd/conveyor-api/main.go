package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/cmd"
	"github.com/conveyorhq/conveyor/pkg/definition"
	"github.com/conveyorhq/conveyor/pkg/interpreter"
	"github.com/conveyorhq/conveyor/pkg/log"
	"github.com/conveyorhq/conveyor/pkg/otelhelper"
	"github.com/conveyorhq/conveyor/pkg/timer"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("conveyor-api")

	command := &cli.Command{
		Name:                  "conveyor-api",
		Usage:                 "Inspect, start, and cancel workflow executions",
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
				Usage:    "Database connection URL for the execution store",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
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

			logger.InfoContext(ctx, "Initializing Conveyor API")

			executionStore, err := cmd.NewStore(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := executionStore.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close store", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "conveyor-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "conveyor-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			pipeline, err := definition.MediaPipeline()
			if err != nil {
				return fmt.Errorf("failed to build media pipeline: %w", err)
			}

			// The API only creates and cancels executions; workers own the
			// ticks, so an empty adapter registry suffices here.
			interp := interpreter.New(
				executionStore,
				adapter.NewRegistry(logger),
				timer.NewInProcess(eventBus, logger),
				eventBus,
				tracer,
				logger,
			)
			interp.RegisterWorkflow(pipeline)

			api := NewAPI(logger, executionStore, interp)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
