package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

// OpenPostgres connects and pings a PostgreSQL database. The connection is
// shared by the config store and the event log.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore keeps one row of flags per system in security_config.
type PostgresStore struct {
	db       *sqlx.DB
	systemID string
	logger   *zap.Logger
}

type configRow struct {
	SystemID       string    `db:"system_id"`
	SystemArmed    bool      `db:"system_armed"`
	CamerasLive    bool      `db:"cameras_live"`
	SystemBreached bool      `db:"system_breached"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// NewPostgresStore creates the schema when missing.
func NewPostgresStore(ctx context.Context, db *sqlx.DB, systemID string) (*PostgresStore, error) {
	s := &PostgresStore{
		db:       db,
		systemID: systemID,
		logger:   zap.L().Named("postgres-store"),
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_config (
		system_id       TEXT PRIMARY KEY,
		system_armed    BOOLEAN NOT NULL DEFAULT FALSE,
		cameras_live    BOOLEAN NOT NULL DEFAULT FALSE,
		system_breached BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT breached_requires_armed CHECK (system_armed OR NOT system_breached)
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (security.SecurityConfig, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `
		SELECT system_id, system_armed, cameras_live, system_breached, updated_at
		FROM security_config WHERE system_id = $1`, s.systemID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Info("No persisted security config", zap.String("system_id", s.systemID))
		return security.SecurityConfig{}, nil
	}
	if err != nil {
		return security.SecurityConfig{}, persistErr("select security_config", err)
	}
	return security.SecurityConfig{
		SystemArmed:    row.SystemArmed,
		CamerasLive:    row.CamerasLive,
		SystemBreached: row.SystemBreached,
	}, nil
}

func (s *PostgresStore) Save(ctx context.Context, cfg security.SecurityConfig) error {
	cfg = cfg.Normalize()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO security_config (system_id, system_armed, cameras_live, system_breached, updated_at)
		VALUES (:system_id, :system_armed, :cameras_live, :system_breached, :updated_at)
		ON CONFLICT (system_id) DO UPDATE SET
			system_armed = EXCLUDED.system_armed,
			cameras_live = EXCLUDED.cameras_live,
			system_breached = EXCLUDED.system_breached,
			updated_at = EXCLUDED.updated_at`,
		configRow{
			SystemID:       s.systemID,
			SystemArmed:    cfg.SystemArmed,
			CamerasLive:    cfg.CamerasLive,
			SystemBreached: cfg.SystemBreached,
			UpdatedAt:      time.Now().UTC(),
		})
	if err != nil {
		return persistErr("upsert security_config", err)
	}
	return nil
}

// DB exposes the connection for the event log.
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

func (s *PostgresStore) Close() error { return s.db.Close() }
