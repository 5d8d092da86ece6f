package eventlog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresWriter appends events to security_logs. It does not own the
// connection.
type PostgresWriter struct {
	db *sqlx.DB
}

func NewPostgresWriter(ctx context.Context, db *sqlx.DB) (*PostgresWriter, error) {
	w := &PostgresWriter{db: db}
	if err := w.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize security_logs schema: %w", err)
	}
	return w, nil
}

func (w *PostgresWriter) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_logs (
		id         UUID PRIMARY KEY,
		system_id  TEXT NOT NULL,
		info       TEXT NOT NULL,
		log_type   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_security_logs_system_time ON security_logs(system_id, created_at DESC);`
	_, err := w.db.ExecContext(ctx, schema)
	return err
}

func (w *PostgresWriter) Write(ctx context.Context, ev Event) error {
	_, err := w.db.NamedExecContext(ctx, `
		INSERT INTO security_logs (id, system_id, info, log_type, created_at)
		VALUES (:id, :system_id, :info, :log_type, :created_at)
		ON CONFLICT (id) DO NOTHING`, ev)
	if err != nil {
		return fmt.Errorf("insert security_logs: %w", err)
	}
	return nil
}

// Recent returns the latest events of a system, newest first.
func (w *PostgresWriter) Recent(ctx context.Context, systemID string, limit int) ([]Event, error) {
	var events []Event
	err := w.db.SelectContext(ctx, &events, `
		SELECT id, system_id, info, log_type, created_at
		FROM security_logs
		WHERE system_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, systemID, limit)
	if err != nil {
		return nil, fmt.Errorf("select security_logs: %w", err)
	}
	return events, nil
}

func (w *PostgresWriter) Close() error { return nil }
