package cmd

import (
	"log/slog"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/adapter/ingest"
	"github.com/conveyorhq/conveyor/pkg/adapter/transcribe"
	"github.com/conveyorhq/conveyor/pkg/adapter/transform"
)

// AdapterConfig carries the service endpoints the worker's adapters talk to.
type AdapterConfig struct {
	Transcribe transcribe.Config
	Ingest     ingest.Config
	Transform  transform.Config
}

// NewRegistry builds the adapter registry with the shipped media adapters.
func NewRegistry(logger *slog.Logger, config AdapterConfig) *adapter.Registry {
	registry := adapter.NewRegistry(logger)

	registry.Register(transcribe.Kind, transcribe.New(config.Transcribe, logger))
	registry.Register(ingest.Kind, ingest.New(config.Ingest, logger))
	registry.RegisterInvoker(transform.Kind, transform.New(config.Transform, logger))

	return registry
}
