package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	loudness "loudness-monitor/internal/loudness/domain"
)

// StreamRepository is a Postgres implementation of the stream registry.
type StreamRepository struct {
	db    DBTX
	table string
}

// NewStreamRepository constructs a repository with default table name.
func NewStreamRepository(db DBTX, opts ...StreamOption) *StreamRepository {
	repo := &StreamRepository{db: db, table: defaultStreamsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StreamOption configures the repository.
type StreamOption func(*StreamRepository)

// WithStreamTable overrides the default table name.
func WithStreamTable(table string) StreamOption {
	return func(repo *StreamRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// List returns all registered streams ordered by id.
func (r *StreamRepository) List(ctx context.Context) ([]loudness.Stream, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("stream repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, name, node, profile, mcast_url
FROM %s
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, loudness.WrapStore("streams.list", err)
	}
	defer rows.Close()

	streams := make([]loudness.Stream, 0)
	for rows.Next() {
		var s loudness.Stream
		if err := rows.Scan(&s.ID, &s.Name, &s.Node, &s.Profile, &s.McastURL); err != nil {
			return nil, loudness.WrapStore("streams.list", err)
		}
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, loudness.WrapStore("streams.list", err)
	}
	return streams, nil
}

// Upsert inserts the stream or refreshes the row sharing its mcast_url, returning its id.
func (r *StreamRepository) Upsert(ctx context.Context, stream loudness.Stream) (loudness.StreamID, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("stream repo: nil db")
	}
	if err := stream.Validate(); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	name,
	node,
	profile,
	mcast_url
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (mcast_url)
DO UPDATE SET
	name = EXCLUDED.name,
	node = EXCLUDED.node,
	profile = EXCLUDED.profile,
	updated_at = NOW()
RETURNING id`, r.table)

	var id loudness.StreamID
	if err := r.db.QueryRowContext(
		ctx,
		query,
		stream.Name,
		stream.Node,
		stream.Profile,
		strings.TrimSpace(stream.McastURL),
	).Scan(&id); err != nil {
		return 0, loudness.WrapStore("streams.upsert", err)
	}
	if id <= 0 {
		return 0, loudness.WrapStore("streams.upsert", errors.New("no id returned"))
	}
	return id, nil
}
