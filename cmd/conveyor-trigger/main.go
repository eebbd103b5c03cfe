// Package main provides the trigger service that starts pipelines from
// storage notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/cmd"
	"github.com/conveyorhq/conveyor/pkg/definition"
	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/interpreter"
	"github.com/conveyorhq/conveyor/pkg/log"
	"github.com/conveyorhq/conveyor/pkg/otelhelper"
	"github.com/conveyorhq/conveyor/pkg/timer"
	"github.com/conveyorhq/conveyor/pkg/trigger"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-trigger",
		EnableShellCompletion: true,
		Usage:                 "Start pipeline executions from storage notifications",
		Flags: []cli.Flag{
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
			&cli.StringSliceFlag{
				Name:    "suffix",
				Usage:   "Object key suffixes that start the pipeline",
				Value:   trigger.DefaultSuffixes,
				Sources: cli.EnvVars("TRIGGER_SUFFIXES"),
			},
			&cli.StringFlag{
				Name:    "workflow",
				Usage:   "Workflow started for accepted notifications",
				Value:   definition.MediaPipelineName,
				Sources: cli.EnvVars("TRIGGER_WORKFLOW"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("conveyor-trigger")
	logger.InfoContext(ctx, "Initializing Conveyor trigger service")

	executionStore, err := cmd.NewStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := executionStore.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "conveyor-trigger", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	tracer, err := otelhelper.NewTracer(ctx, "conveyor-trigger")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	pipeline, err := definition.MediaPipeline()
	if err != nil {
		return fmt.Errorf("failed to build media pipeline: %w", err)
	}

	// The trigger service only creates executions; ticks are handled by
	// workers, so the in-process scheduler and an empty registry suffice.
	interp := interpreter.New(
		executionStore,
		adapter.NewRegistry(logger),
		timer.NewInProcess(eventBus, logger),
		eventBus,
		tracer,
		logger,
	)
	interp.RegisterWorkflow(pipeline)

	gateway := trigger.NewGateway(interp, command.String("workflow"), command.StringSlice("suffix"), logger)

	eventBus.Handle(events.ObjectCreatedEvent, func(ctx context.Context, event any) error {
		created, ok := event.(*events.ObjectCreated)
		if !ok {
			logger.ErrorContext(ctx, "Invalid event type for ObjectCreated")

			return nil
		}

		return gateway.OnObjectCreated(ctx, *created)
	})

	if err := eventBus.Subscribe(ctx, events.ObjectCreatedTopic); err != nil {
		return fmt.Errorf("failed to subscribe to object notifications: %w", err)
	}

	logger.InfoContext(ctx, "Trigger service started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down trigger service")

	return nil
}
