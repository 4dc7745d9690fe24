package application

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	loudness "loudness-monitor/internal/loudness/domain"
	matrix "loudness-monitor/internal/matrix/domain"
)

const (
	DefaultMaxRows  = 100000
	DefaultPageSize = 5000
)

// Result is one aggregated day.
type Result struct {
	Day    matrix.Day
	Policy matrix.Policy
	Rows   []matrix.Row
	// Fetched counts the measurements read from the store.
	Fetched int
	// Truncated is set when the row cap was reached and the day may be incomplete.
	Truncated bool
}

// MatrixService aggregates a day of measurements into the channel/slot matrix.
type MatrixService struct {
	streams      loudness.StreamRepository
	measurements loudness.MeasurementRepository
	logger       *log.Logger
	defaults     matrix.Options
	maxRows      int
	pageSize     int
	observe      func(policy string, truncated bool, d time.Duration)
}

// MatrixOption configures the service.
type MatrixOption func(*MatrixService)

// WithDefaults sets the policy, thresholds and formatting used when a request
// does not override them.
func WithDefaults(opts matrix.Options) MatrixOption {
	return func(s *MatrixService) { s.defaults = opts }
}

// WithRowCap bounds the measurements read per day and the keyset page size.
func WithRowCap(maxRows, pageSize int) MatrixOption {
	return func(s *MatrixService) {
		if maxRows > 0 {
			s.maxRows = maxRows
		}
		if pageSize > 0 {
			s.pageSize = pageSize
		}
	}
}

// WithMatrixObserver reports each aggregation.
func WithMatrixObserver(fn func(policy string, truncated bool, d time.Duration)) MatrixOption {
	return func(s *MatrixService) { s.observe = fn }
}

// NewMatrixService constructs a MatrixService.
func NewMatrixService(streams loudness.StreamRepository, measurements loudness.MeasurementRepository, logger *log.Logger, opts ...MatrixOption) (*MatrixService, error) {
	if streams == nil || measurements == nil {
		return nil, errors.New("matrix service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &MatrixService{
		streams:      streams,
		measurements: measurements,
		logger:       logger,
		maxRows:      DefaultMaxRows,
		pageSize:     DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pageSize > s.maxRows {
		s.pageSize = s.maxRows
	}
	return s, nil
}

// DefaultPolicy returns the configured bucketing policy.
func (s *MatrixService) DefaultPolicy() matrix.Policy {
	return s.defaults.Policy
}

// Aggregate builds the matrix for day under the default policy.
func (s *MatrixService) Aggregate(ctx context.Context, day matrix.Day) (Result, error) {
	return s.AggregateWith(ctx, day, s.defaults.Policy)
}

// AggregateWith builds the matrix for day under policy. A store failure fails
// the whole aggregation.
func (s *MatrixService) AggregateWith(ctx context.Context, day matrix.Day, policy matrix.Policy) (Result, error) {
	start := time.Now()
	var (
		streams      []loudness.Stream
		measurements []loudness.Measurement
		truncated    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		streams, err = s.streams.List(gctx)
		return loudness.WrapStore("matrix.streams", err)
	})
	g.Go(func() error {
		var err error
		measurements, truncated, err = s.fetchDay(gctx, day)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Printf("matrix: aggregation failed day=%s err=%v", day, err)
		return Result{}, err
	}

	if truncated {
		s.logger.Printf("matrix: row cap reached day=%s max_rows=%d, result may be incomplete", day, s.maxRows)
	}

	opts := s.defaults
	opts.Policy = policy
	rows := matrix.Aggregate(day, streams, measurements, opts)
	if s.observe != nil {
		s.observe(policy.String(), truncated, time.Since(start))
	}
	return Result{
		Day:       day,
		Policy:    policy,
		Rows:      rows,
		Fetched:   len(measurements),
		Truncated: truncated,
	}, nil
}

// fetchDay pages through [day, day+1) in ascending (timestamp, id) order.
func (s *MatrixService) fetchDay(ctx context.Context, day matrix.Day) ([]loudness.Measurement, bool, error) {
	var (
		out    []loudness.Measurement
		cursor *loudness.Cursor
	)
	for len(out) < s.maxRows {
		limit := s.pageSize
		if remaining := s.maxRows - len(out); remaining < limit {
			limit = remaining
		}
		page, err := s.measurements.Select(ctx, loudness.MeasurementQuery{
			From:   day.Start(),
			Until:  day.End(),
			Cursor: cursor,
			Order:  loudness.OrderAsc,
			Limit:  limit,
		})
		if err != nil {
			return nil, false, loudness.WrapStore("matrix.measurements", err)
		}
		out = append(out, page...)
		if len(page) < limit {
			return out, false, nil
		}
		last := page[len(page)-1]
		cursor = &loudness.Cursor{Timestamp: last.Timestamp, ID: last.ID}
	}

	// The cap was reached; it only truncates if another row exists.
	more, err := s.measurements.Select(ctx, loudness.MeasurementQuery{
		From:   day.Start(),
		Until:  day.End(),
		Cursor: cursor,
		Limit:  1,
	})
	if err != nil {
		return nil, false, loudness.WrapStore("matrix.measurements", err)
	}
	return out, len(more) > 0, nil
}
