package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"memoria/pkg/memoria"
)

// Backend names accepted by Config.Backend.
const (
	BackendAuto     = "auto"
	BackendSheets   = "sheets"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and configures one backend.
type Config struct {
	// Backend names the backend. Empty or auto picks the first configured one
	// of postgres, sqlite and sheets.
	Backend     string
	Sheets      SheetsConfig
	SQLitePath  string
	DatabaseURL string
	Location    *time.Location
}

// Open builds the configured store.
//
// Missing credential material never fails: the store degrades to the
// non-persisting backend and logs why.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Sheets.Location = cfg.Location

	backend, err := openBackend(ctx, cfg, logger)
	if errors.Is(err, memoria.ErrNotConfigured) {
		logger.WarnContext(ctx, "memory store not configured, records will not be persisted",
			"backend", cfg.Backend,
			"error", err,
		)
		backend = NewDegraded()
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return New(backend, WithLogger(logger))
}

func openBackend(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch name {
	case "", BackendAuto:
		switch {
		case strings.TrimSpace(cfg.DatabaseURL) != "":
			return NewPostgres(cfg.DatabaseURL, cfg.Location)
		case strings.TrimSpace(cfg.SQLitePath) != "":
			return NewSQLite(cfg.SQLitePath, cfg.Location)
		case cfg.Sheets.Configured():
			return NewSheets(ctx, cfg.Sheets, logger)
		default:
			return nil, fmt.Errorf("no store credentials: %w", memoria.ErrNotConfigured)
		}
	case BackendSheets:
		return NewSheets(ctx, cfg.Sheets, logger)
	case BackendSQLite:
		return NewSQLite(cfg.SQLitePath, cfg.Location)
	case BackendPostgres:
		return NewPostgres(cfg.DatabaseURL, cfg.Location)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
