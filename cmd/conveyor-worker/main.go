package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/conveyorhq/conveyor/pkg/adapter/ingest"
	"github.com/conveyorhq/conveyor/pkg/adapter/transcribe"
	"github.com/conveyorhq/conveyor/pkg/adapter/transform"
	"github.com/conveyorhq/conveyor/pkg/cmd"
	"github.com/conveyorhq/conveyor/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to advance workflow executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:    "timer-url",
				Usage:   "Timer backend URL (memory://, redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("TIMER_URL"),
			},
			&cli.StringFlag{
				Name:    "workflows-path",
				Usage:   "Directory of additional workflow definition documents",
				Value:   "",
				Sources: cli.EnvVars("WORKFLOWS_PATH"),
			},
			&cli.StringFlag{
				Name:     "transcribe-url",
				Usage:    "Base URL of the transcription service",
				Required: true,
				Sources:  cli.EnvVars("TRANSCRIBE_URL"),
			},
			&cli.StringFlag{
				Name:    "transcribe-language",
				Usage:   "Language code for transcription jobs",
				Value:   "en-US",
				Sources: cli.EnvVars("TRANSCRIBE_LANGUAGE"),
			},
			&cli.StringFlag{
				Name:     "transcript-bucket",
				Usage:    "Bucket transcription jobs write their output to",
				Required: true,
				Sources:  cli.EnvVars("TRANSCRIPT_BUCKET"),
			},
			&cli.StringFlag{
				Name:    "transcript-prefix",
				Usage:   "Key prefix for transcription output objects",
				Value:   "transcripts/",
				Sources: cli.EnvVars("TRANSCRIPT_PREFIX"),
			},
			&cli.StringFlag{
				Name:     "transform-url",
				Usage:    "Base URL of the transcript transformation service",
				Required: true,
				Sources:  cli.EnvVars("TRANSFORM_URL"),
			},
			&cli.StringFlag{
				Name:     "ingest-url",
				Usage:    "Base URL of the ingestion service",
				Required: true,
				Sources:  cli.EnvVars("INGEST_URL"),
			},
			&cli.StringFlag{
				Name:     "ingest-data-source-id",
				Usage:    "Data source the ingestion jobs sync",
				Required: true,
				Sources:  cli.EnvVars("INGEST_DATA_SOURCE_ID"),
			},
			&cli.StringFlag{
				Name:     "ingest-knowledge-base-id",
				Usage:    "Knowledge base the ingestion jobs sync into",
				Required: true,
				Sources:  cli.EnvVars("INGEST_KNOWLEDGE_BASE_ID"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Re-tick running executions untouched for this long",
				Value:   2 * time.Minute,
				Sources: cli.EnvVars("STALE_AFTER"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("conveyor-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Conveyor worker")

			executionStore, err := cmd.NewStore(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := executionStore.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close store", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "conveyor-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			scheduler, err := cmd.NewScheduler(command.String("timer-url"), eventBus, logger)
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, cmd.AdapterConfig{
				Transcribe: transcribe.Config{
					BaseURL:      command.String("transcribe-url"),
					LanguageCode: command.String("transcribe-language"),
					OutputBucket: command.String("transcript-bucket"),
					OutputPrefix: command.String("transcript-prefix"),
				},
				Ingest: ingest.Config{
					BaseURL:         command.String("ingest-url"),
					DataSourceID:    command.String("ingest-data-source-id"),
					KnowledgeBaseID: command.String("ingest-knowledge-base-id"),
				},
				Transform: transform.Config{
					BaseURL: command.String("transform-url"),
				},
			})

			worker := NewWorker(workerID, WorkerConfig{
				WorkflowsPath: command.String("workflows-path"),
				StaleAfter:    command.Duration("stale-after"),
			}, executionStore, eventBus, scheduler, registry, logger)

			return worker.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
