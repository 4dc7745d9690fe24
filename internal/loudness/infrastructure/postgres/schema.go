package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	defaultStreamsTable      = "streams"
	defaultMeasurementsTable = "measurements"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var schemaStatements = []string{
	fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	node TEXT NOT NULL DEFAULT '',
	profile TEXT NOT NULL DEFAULT '',
	mcast_url TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, defaultStreamsTable),
	fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	stream_id BIGINT NOT NULL REFERENCES %s(id),
	"timestamp" TIMESTAMPTZ NOT NULL,
	min_db DOUBLE PRECISION NOT NULL,
	max_db DOUBLE PRECISION NOT NULL,
	avg_db DOUBLE PRECISION NOT NULL,
	status TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stream_id, "timestamp")
)`, defaultMeasurementsTable, defaultStreamsTable),
	fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_timestamp_idx ON %[1]s ("timestamp", id)`, defaultMeasurementsTable),
}

// EnsureSchema creates the streams and measurements tables when missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if db == nil {
		return errors.New("loudness schema: nil db")
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("loudness schema: %w", err)
		}
	}
	return nil
}
