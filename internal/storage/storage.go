// Package storage opens the configured trace sink.
package storage

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/agent-router/internal/core/ports"
	"github.com/tjfontaine/agent-router/internal/pkg/config"
	"github.com/tjfontaine/agent-router/internal/storage/badgerdb"
	"github.com/tjfontaine/agent-router/internal/storage/memory"
	"github.com/tjfontaine/agent-router/internal/storage/sqldb"
)

// Open builds the storage provider named by cfg.Type. It returns (nil, nil)
// for "none"; runs still complete but traces are not persisted.
func Open(cfg config.StorageConfig, logger *slog.Logger) (ports.StorageProvider, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := cfg.SQLite.Path
		if path == "" {
			path = "router.db"
		}
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "badger":
		store, err := badgerdb.Open(badgerdb.Config{
			Path:     cfg.Badger.Path,
			InMemory: cfg.Badger.InMemory,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
