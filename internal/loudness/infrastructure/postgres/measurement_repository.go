package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	loudness "loudness-monitor/internal/loudness/domain"
)

// MeasurementRepository is a Postgres implementation for loudness measurements.
type MeasurementRepository struct {
	db    DBTX
	table string
}

// NewMeasurementRepository constructs a repository with default table name.
func NewMeasurementRepository(db DBTX, opts ...MeasurementOption) *MeasurementRepository {
	repo := &MeasurementRepository{db: db, table: defaultMeasurementsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// MeasurementOption configures the repository.
type MeasurementOption func(*MeasurementRepository)

// WithMeasurementTable overrides the default table name.
func WithMeasurementTable(table string) MeasurementOption {
	return func(repo *MeasurementRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Insert records one measurement. A duplicate (stream_id, timestamp) is a no-op.
func (r *MeasurementRepository) Insert(ctx context.Context, m loudness.Measurement) error {
	if r == nil || r.db == nil {
		return errors.New("measurement repo: nil db")
	}
	if err := m.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	stream_id,
	"timestamp",
	min_db,
	max_db,
	avg_db,
	status
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (stream_id, "timestamp") DO NOTHING`, r.table)

	status := sql.NullString{}
	if m.Status != "" {
		status = sql.NullString{String: string(m.Status), Valid: true}
	}
	if _, err := r.db.ExecContext(
		ctx,
		query,
		int64(m.StreamID),
		m.Timestamp.UTC(),
		m.MinDB,
		m.MaxDB,
		m.AvgDB,
		status,
	); err != nil {
		return loudness.WrapStore("measurements.insert", err)
	}
	return nil
}

// Select returns measurements matching q ordered by (timestamp, id).
func (r *MeasurementRepository) Select(ctx context.Context, q loudness.MeasurementQuery) ([]loudness.Measurement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("measurement repo: nil db")
	}

	query, args := r.buildSelect(q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, loudness.WrapStore("measurements.select", err)
	}
	defer rows.Close()

	capacity := q.Limit
	if capacity <= 0 || capacity > 1024 {
		capacity = 1024
	}
	out := make([]loudness.Measurement, 0, capacity)
	for rows.Next() {
		var (
			m      loudness.Measurement
			status sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.StreamID, &m.Timestamp, &m.MinDB, &m.MaxDB, &m.AvgDB, &status); err != nil {
			return nil, loudness.WrapStore("measurements.select", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		if status.Valid {
			m.Status = loudness.Status(status.String)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, loudness.WrapStore("measurements.select", err)
	}
	return out, nil
}

func (r *MeasurementRepository) buildSelect(q loudness.MeasurementQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.From.IsZero() {
		where = append(where, `"timestamp" >= `+arg(q.From.UTC()))
	}
	if !q.Until.IsZero() {
		where = append(where, `"timestamp" < `+arg(q.Until.UTC()))
	}
	if !q.After.IsZero() {
		where = append(where, `"timestamp" > `+arg(q.After.UTC()))
	}
	if q.StreamID != 0 {
		where = append(where, "stream_id = "+arg(int64(q.StreamID)))
	}
	if q.Status != "" {
		where = append(where, "status = "+arg(string(q.Status)))
	}
	if q.Cursor != nil {
		ts := arg(q.Cursor.Timestamp.UTC())
		id := arg(q.Cursor.ID)
		where = append(where, fmt.Sprintf(`("timestamp", id) > (%s, %s)`, ts, id))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT id, stream_id, "timestamp", min_db, max_db, avg_db, status FROM %s`, r.table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if q.Order == loudness.OrderDesc {
		b.WriteString(` ORDER BY "timestamp" DESC, id DESC`)
	} else {
		b.WriteString(` ORDER BY "timestamp" ASC, id ASC`)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + arg(q.Limit))
	}
	return b.String(), args
}
