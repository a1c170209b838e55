package storage

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/records"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"

	sqliteFileName = "restflow.db"
)

// Backend persists both records and history.
type Backend interface {
	records.Backend
	history.Backend
	Close() error
}

type Config struct {
	Driver string
	// Path is a directory for the file driver and a directory or .db file for sqlite.
	Path string
}

func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errdef.New(errdef.CodeStorage, "file storage requires a path")
		}
		return NewFileStore(cfg.Path)
	case DriverSQLite:
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errdef.New(errdef.CodeStorage, "sqlite storage requires a path")
		}
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, sqliteFileName)
		}
		return OpenSQLite(ctx, path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errdef.New(errdef.CodeConfig, "unknown storage driver %q", cfg.Driver)
	}
}

// OpenOrMemory falls back to an in-memory backend when the configured one
// cannot be opened, so callers keep working without durability.
func OpenOrMemory(ctx context.Context, cfg Config, logger *zap.Logger) Backend {
	backend, err := Open(ctx, cfg)
	if err == nil {
		return backend
	}
	if logger != nil {
		logger.Warn("storage unavailable, falling back to memory",
			zap.String("driver", cfg.Driver),
			zap.String("path", cfg.Path),
			zap.Error(err),
		)
	}
	return NewMemory()
}
