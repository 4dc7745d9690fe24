package postgres

import (
	"context"
	"database/sql"
	"errors"

	loudness "loudness-monitor/internal/loudness/domain"
)

// Store bundles the repositories over one database handle and runs
// ingestion units of work in a transaction.
type Store struct {
	db           *sql.DB
	Streams      *StreamRepository
	Measurements *MeasurementRepository
}

// NewStore constructs a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		Streams:      NewStreamRepository(db),
		Measurements: NewMeasurementRepository(db),
	}
}

// WithinTx runs fn against transaction-scoped repositories; any error rolls back.
func (s *Store) WithinTx(ctx context.Context, fn func(streams loudness.StreamRepository, measurements loudness.MeasurementRepository) error) error {
	if s == nil || s.db == nil {
		return errors.New("loudness store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loudness.WrapStore("tx.begin", err)
	}

	streams := NewStreamRepository(tx, WithStreamTable(s.Streams.table))
	measurements := NewMeasurementRepository(tx, WithMeasurementTable(s.Measurements.table))
	if err := fn(streams, measurements); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return loudness.WrapStore("tx.commit", err)
	}
	return nil
}
