package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/myuser/mvccdb/internal/config"
	"github.com/myuser/mvccdb/internal/storage"
)

func openEngine(cfg *config.Config) (storage.Engine, error) {
	if cfg.Engine == config.EngineMemory {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch cfg.Engine {
	case config.EngineLog:
		return storage.OpenLogStore(filepath.Join(cfg.DataDir, "mvccdb.log"), cfg.CompactRatio)
	case config.EnginePebble:
		return storage.OpenPebbleStore(filepath.Join(cfg.DataDir, "pebble"))
	case config.EngineSQLite:
		return storage.OpenSQLiteStore(filepath.Join(cfg.DataDir, "mvccdb.sqlite"))
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}
