package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	loudness "loudness-monitor/internal/loudness/domain"
	matrix "loudness-monitor/internal/matrix/domain"
)

// DateStrategy selects how the date index is computed.
type DateStrategy string

const (
	// DateStrategyProbe issues one existence query per calendar day between
	// the first and last measurement.
	DateStrategyProbe DateStrategy = "probe"
	// DateStrategyScan reads up to the row cap of timestamps and de-duplicates days.
	DateStrategyScan DateStrategy = "scan"

	defaultProbeConcurrency = 8
)

var ErrUnknownDateStrategy = errors.New("date index: unknown strategy")

// ParseDateStrategy reads "probe" or "scan"; empty selects probe.
func ParseDateStrategy(value string) (DateStrategy, error) {
	switch DateStrategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", DateStrategyProbe:
		return DateStrategyProbe, nil
	case DateStrategyScan:
		return DateStrategyScan, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDateStrategy, value)
	}
}

// DateIndex lists the UTC days that have at least one measurement.
type DateIndex struct {
	measurements loudness.MeasurementRepository
	strategy     DateStrategy
	maxRows      int
	concurrency  int
	logger       *log.Logger
}

// NewDateIndex constructs a DateIndex.
func NewDateIndex(measurements loudness.MeasurementRepository, strategy DateStrategy, maxRows int, logger *log.Logger) (*DateIndex, error) {
	if measurements == nil {
		return nil, errors.New("date index: nil repository")
	}
	if strategy == "" {
		strategy = DateStrategyProbe
	}
	if strategy != DateStrategyProbe && strategy != DateStrategyScan {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDateStrategy, strategy)
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DateIndex{
		measurements: measurements,
		strategy:     strategy,
		maxRows:      maxRows,
		concurrency:  defaultProbeConcurrency,
		logger:       logger,
	}, nil
}

// Strategy reports the configured strategy.
func (d *DateIndex) Strategy() DateStrategy { return d.strategy }

// Dates returns YYYY-MM-DD labels in ascending order.
func (d *DateIndex) Dates(ctx context.Context) ([]string, error) {
	var (
		days []matrix.Day
		err  error
	)
	if d.strategy == DateStrategyScan {
		days, err = d.scan(ctx)
	} else {
		days, err = d.probe(ctx)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(days))
	for _, day := range days {
		out = append(out, day.String())
	}
	return out, nil
}

func (d *DateIndex) scan(ctx context.Context) ([]matrix.Day, error) {
	rows, err := d.measurements.Select(ctx, loudness.MeasurementQuery{Order: loudness.OrderAsc, Limit: d.maxRows})
	if err != nil {
		return nil, loudness.WrapStore("dates.scan", err)
	}
	if len(rows) >= d.maxRows {
		d.logger.Printf("dates: scan reached max_rows=%d, later days may be missing", d.maxRows)
	}
	seen := make(map[string]struct{})
	days := make([]matrix.Day, 0)
	for _, m := range rows {
		day := matrix.DayOf(m.Timestamp)
		if _, ok := seen[day.String()]; ok {
			continue
		}
		seen[day.String()] = struct{}{}
		days = append(days, day)
	}
	return days, nil
}

func (d *DateIndex) probe(ctx context.Context) ([]matrix.Day, error) {
	first, err := d.measurements.Select(ctx, loudness.MeasurementQuery{Order: loudness.OrderAsc, Limit: 1})
	if err != nil {
		return nil, loudness.WrapStore("dates.min", err)
	}
	if len(first) == 0 {
		return []matrix.Day{}, nil
	}
	last, err := d.measurements.Select(ctx, loudness.MeasurementQuery{Order: loudness.OrderDesc, Limit: 1})
	if err != nil {
		return nil, loudness.WrapStore("dates.max", err)
	}
	if len(last) == 0 {
		last = first
	}

	var candidates []matrix.Day
	end := matrix.DayOf(last[0].Timestamp)
	for day := matrix.DayOf(first[0].Timestamp); !day.After(end); day = day.Next() {
		candidates = append(candidates, day)
	}

	found := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, day := range candidates {
		i, day := i, day
		g.Go(func() error {
			rows, err := d.measurements.Select(gctx, loudness.MeasurementQuery{
				From:  day.Start(),
				Until: day.End(),
				Limit: 1,
			})
			if err != nil {
				return loudness.WrapStore("dates.probe", err)
			}
			found[i] = len(rows) > 0
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	days := make([]matrix.Day, 0, len(candidates))
	for i, ok := range found {
		if ok {
			days = append(days, candidates[i])
		}
	}
	return days, nil
}
