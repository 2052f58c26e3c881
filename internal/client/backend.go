package client

import (
	"fmt"
	"log/slog"

	"github.com/missileglobe/globe-client/internal/api"
	"github.com/missileglobe/globe-client/internal/config"
	"github.com/missileglobe/globe-client/internal/database"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/storage/gormdb"
	"github.com/missileglobe/globe-client/internal/storage/httpapi"
	"github.com/missileglobe/globe-client/internal/storage/memory"
	"github.com/rs/zerolog"
)

// Persistence backends selectable with persist.backend.
const (
	BackendAPI      = "api"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// createStorageBackend returns the configured backend and, for the GORM
// backends, the database manager that owns the connection.
func createStorageBackend(cfg config.PersistConfig, apiClient *api.Client, radius float64, logger *slog.Logger, dbLogger zerolog.Logger) (storage.Backend, *database.Manager, error) {
	switch cfg.Backend {
	case BackendAPI, "":
		logger.Info("API storage backend initialized")
		return httpapi.New(apiClient, logger), nil, nil

	case BackendSQLite:
		db := database.NewManager(dbLogger)
		if err := db.ConnectSqlite(cfg.SQLite.Path); err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend initialized", "path", cfg.SQLite.Path)
		return gormdb.New(gormdb.Dependencies{DB: db.DB, Radius: radius, Logger: logger}), db, nil

	case BackendPostgres:
		db := database.NewManager(dbLogger)
		if err := db.ConnectPostgres(cfg.Postgres, cfg.SQLite.Path); err != nil {
			return nil, nil, fmt.Errorf("failed to open Postgres backend: %w", err)
		}
		logger.Info("Postgres storage backend initialized", "local", db.IsLocal)
		return gormdb.New(gormdb.Dependencies{DB: db.DB, Radius: radius, Logger: logger}), db, nil

	case BackendMemory:
		logger.Info("Memory storage backend initialized", "outputDir", cfg.Memory.OutputDir)
		return memory.New(cfg.Memory), nil, nil

	case BackendNone:
		return storage.Discard{}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown persist backend %q", cfg.Backend)
	}
}
