// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/store/memory"
	"github.com/conveyorhq/conveyor/pkg/store/postgres"
	"github.com/conveyorhq/conveyor/pkg/store/sqlite"
)

// NewStore builds the execution store for a database URL. Supported schemes
// are postgres://, sqlite://, and memory://.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (store.Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.NewStore(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return sqlite.NewStore(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "memory://"):
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q", databaseURL)
	}
}
