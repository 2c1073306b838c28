package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the watermark ledger in a shared database for
// distributed deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const watermarkSchema = `
CREATE TABLE IF NOT EXISTS bronze_watermarks (
	system_name       TEXT NOT NULL,
	table_name        TEXT NOT NULL,
	column_name       TEXT NOT NULL,
	value_type        TEXT NOT NULL,
	value             TEXT NOT NULL DEFAULT '',
	last_run_id       TEXT,
	last_run_date     TEXT,
	last_record_count BIGINT NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (system_name, table_name, column_name)
);
`

// NewPostgresStore builds a database-backed ledger and ensures its table.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, watermarkSchema); err != nil {
		return nil, fmt.Errorf("ensure watermark table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key, valueType string) (*Watermark, error) {
	w := &Watermark{Key: key, Type: valueType}
	var lastRunID, lastRunDate *string
	err := s.pool.QueryRow(ctx, `
		SELECT value_type, value, last_run_id, last_run_date, last_record_count
		FROM bronze_watermarks
		WHERE system_name = $1 AND table_name = $2 AND column_name = $3`,
		key.System, key.Table, key.Column).Scan(
		&w.Type, &w.Value, &lastRunID, &lastRunDate, &w.LastRecordCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Watermark{Key: key, Type: valueType}, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRunID != nil {
		w.LastRunID = *lastRunID
	}
	if lastRunDate != nil {
		w.LastRunDate = *lastRunDate
	}
	return w, nil
}

func (s *PostgresStore) Save(ctx context.Context, w *Watermark) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bronze_watermarks
			(system_name, table_name, column_name, value_type, value,
			 last_run_id, last_run_date, last_record_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (system_name, table_name, column_name) DO UPDATE SET
			value_type = EXCLUDED.value_type,
			value = EXCLUDED.value,
			last_run_id = EXCLUDED.last_run_id,
			last_run_date = EXCLUDED.last_run_date,
			last_record_count = EXCLUDED.last_record_count,
			updated_at = now()`,
		w.Key.System, w.Key.Table, w.Key.Column, w.Type, w.Value,
		w.LastRunID, w.LastRunDate, w.LastRecordCount)
	if err != nil {
		return fmt.Errorf("save watermark %s: %w", w.Key, err)
	}
	return nil
}
