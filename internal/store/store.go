package store

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

// Store persists the security flags and releases its connection on Close.
type Store interface {
	security.ConfigStore
	io.Closer
}

// New opens the store selected by cfg.Type.
func New(ctx context.Context, cfg config.StoreConfig, systemID string) (Store, error) {
	switch cfg.Type {
	case "yaml", "":
		return NewFileStore(cfg.Path), nil
	case "postgres":
		db, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresStore(ctx, db, systemID)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis, systemID)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// LoadOrDefault loads the flags, falling back to all false when the store
// cannot be read. The returned config is normalized.
func LoadOrDefault(ctx context.Context, s security.ConfigStore, logger *zap.Logger) security.SecurityConfig {
	cfg, err := s.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load security config, starting disarmed", zap.Error(err))
		return security.SecurityConfig{}
	}
	if !cfg.Valid() {
		logger.Warn("Persisted security config is inconsistent, clearing breach",
			zap.Bool("system_armed", cfg.SystemArmed),
			zap.Bool("system_breached", cfg.SystemBreached))
	}
	return cfg.Normalize()
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", security.ErrPersistence, op, err)
}
