package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/definition"
	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/interpreter"
	"github.com/conveyorhq/conveyor/pkg/otelhelper"
	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/sweep"
	"github.com/conveyorhq/conveyor/pkg/timer"
)

type WorkerConfig struct {
	WorkflowsPath string
	StaleAfter    time.Duration
}

// Worker subscribes to tick events and advances executions through the
// interpreter.
type Worker struct {
	id        string
	config    WorkerConfig
	store     store.Store
	eventBus  eventbus.EventBus
	scheduler timer.Scheduler
	registry  *adapter.Registry
	logger    *slog.Logger
}

func NewWorker(
	id string,
	config WorkerConfig,
	executionStore store.Store,
	eventBus eventbus.EventBus,
	scheduler timer.Scheduler,
	registry *adapter.Registry,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:        id,
		config:    config,
		store:     executionStore,
		eventBus:  eventBus,
		scheduler: scheduler,
		registry:  registry,
		logger:    logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	tracer, err := otelhelper.NewTracer(ctx, "conveyor-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	interp := interpreter.New(w.store, w.registry, w.scheduler, w.eventBus, tracer, w.logger)

	if err := w.registerWorkflows(interp); err != nil {
		return err
	}

	w.eventBus.Handle(events.TickRequestedEvent, func(ctx context.Context, event any) error {
		tick, ok := event.(*events.TickRequested)
		if !ok {
			w.logger.ErrorContext(ctx, "Invalid event type for TickRequested")

			return nil
		}

		return interp.Tick(ctx, tick.ExecutionID)
	})

	if err := w.eventBus.Subscribe(ctx, events.TickTopic); err != nil {
		return fmt.Errorf("failed to subscribe to ticks: %w", err)
	}

	durable, _ := w.scheduler.(timer.Sweeper)

	sweeper := sweep.New(w.store, w.eventBus, durable, w.config.StaleAfter, w.logger)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweep: %w", err)
	}

	defer sweeper.Stop()

	w.logger.InfoContext(ctx, "Worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker")

	return nil
}

// registerWorkflows loads the shipped media pipeline plus any JSON documents
// found under the configured workflows path.
func (w *Worker) registerWorkflows(interp *interpreter.Interpreter) error {
	pipeline, err := definition.MediaPipeline()
	if err != nil {
		return fmt.Errorf("failed to build media pipeline: %w", err)
	}

	interp.RegisterWorkflow(pipeline)

	path := w.config.WorkflowsPath
	if path == "" {
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("failed to read workflows path %s: %w", path, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read workflow document %s: %w", entry.Name(), err)
		}

		def, err := definition.Load(raw)
		if err != nil {
			return fmt.Errorf("failed to load workflow document %s: %w", entry.Name(), err)
		}

		interp.RegisterWorkflow(def)
		w.logger.Info("Registered workflow", "workflow_name", def.Name(), "source", entry.Name())
	}

	return nil
}
