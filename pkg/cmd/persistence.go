package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/persistence/file"
	"github.com/dukex/flowstate/pkg/persistence/postgresql"
)

// NewPersistence builds the persistence layer from the database URL scheme:
// postgres:// and postgresql:// select PostgreSQL, anything else is treated
// as a filesystem root for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parseProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	return parts[0]
}
