package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
)

const defaultDataDir = "./data"

// NewPersistence selects the store from the URL scheme: postgres:// and
// postgresql:// open Postgres, file:// or a bare path use JSON files.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceURL(databaseURL)

	switch provider {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(location), nil
	}
}

func parsePersistenceURL(databaseURL string) (string, string) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		if databaseURL == "" {
			return "file", defaultDataDir
		}

		return "file", databaseURL
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql", databaseURL
	default:
		if rest == "" {
			rest = defaultDataDir
		}

		return "file", rest
	}
}
