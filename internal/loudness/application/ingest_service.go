package application

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
)

// Submission is one analyzer report: the stream definition plus its measurement.
type Submission struct {
	Name      string   `json:"name"`
	Node      string   `json:"node"`
	Profile   string   `json:"profile"`
	McastURL  string   `json:"mcast_url"`
	Timestamp string   `json:"timestamp"`
	MinDB     *float64 `json:"min_db"`
	MaxDB     *float64 `json:"max_db"`
	AvgDB     *float64 `json:"avg_db"`
	Status    string   `json:"status"`
}

// Recorded is the outcome of a successful submission.
type Recorded struct {
	Stream      loudness.Stream
	Measurement loudness.Measurement
}

// Sink receives committed measurements, e.g. a time-series mirror.
type Sink interface {
	Write(ctx context.Context, stream loudness.Stream, measurement loudness.Measurement) error
}

// IngestService validates and records submissions.
type IngestService struct {
	tx         loudness.Transactor
	thresholds loudness.Thresholds
	sinks      []Sink
	logger     *log.Logger
	observe    func(result string, duration time.Duration)
}

// IngestOption configures the service.
type IngestOption func(*IngestService)

// WithThresholds derives missing statuses from thresholds.
func WithThresholds(t loudness.Thresholds) IngestOption {
	return func(s *IngestService) { s.thresholds = t }
}

// WithSink adds a post-commit sink.
func WithSink(sink Sink) IngestOption {
	return func(s *IngestService) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithIngestObserver reports each submission result and latency.
func WithIngestObserver(fn func(result string, duration time.Duration)) IngestOption {
	return func(s *IngestService) { s.observe = fn }
}

// NewIngestService constructs an IngestService.
func NewIngestService(tx loudness.Transactor, logger *log.Logger, opts ...IngestOption) (*IngestService, error) {
	if tx == nil {
		return nil, loudness.ErrNilRepository
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &IngestService{tx: tx, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit upserts the stream and records the measurement in one unit of work.
// A measurement is never written when the stream upsert fails.
func (s *IngestService) Submit(ctx context.Context, sub Submission) (Recorded, error) {
	start := time.Now()
	rec, err := s.submit(ctx, sub)
	if s.observe != nil {
		result := "success"
		var inputErr *loudness.InputError
		switch {
		case errors.As(err, &inputErr):
			result = "invalid"
		case err != nil:
			result = "error"
		}
		s.observe(result, time.Since(start))
	}
	return rec, err
}

func (s *IngestService) submit(ctx context.Context, sub Submission) (Recorded, error) {
	stream, m, err := s.parse(sub)
	if err != nil {
		return Recorded{}, err
	}

	err = s.tx.WithinTx(ctx, func(streams loudness.StreamRepository, measurements loudness.MeasurementRepository) error {
		id, err := streams.Upsert(ctx, stream)
		if err != nil {
			return err
		}
		stream.ID = id
		m.StreamID = id
		return measurements.Insert(ctx, m)
	})
	if err != nil {
		s.logger.Printf("ingest: submission failed mcast_url=%s err=%v", stream.McastURL, err)
		return Recorded{}, err
	}

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, stream, m); err != nil {
			s.logger.Printf("ingest: sink write failed stream_id=%d err=%v", stream.ID, err)
		}
	}
	return Recorded{Stream: stream, Measurement: m}, nil
}

func (s *IngestService) parse(sub Submission) (loudness.Stream, loudness.Measurement, error) {
	stream := loudness.Stream{
		Name:     strings.TrimSpace(sub.Name),
		Node:     strings.TrimSpace(sub.Node),
		Profile:  strings.TrimSpace(sub.Profile),
		McastURL: strings.TrimSpace(sub.McastURL),
	}
	if err := stream.Validate(); err != nil {
		return loudness.Stream{}, loudness.Measurement{}, err
	}

	ts, err := ParseTimestamp(sub.Timestamp)
	if err != nil {
		return loudness.Stream{}, loudness.Measurement{}, loudness.NewInputError("timestamp", err.Error())
	}
	minDB, err := requireLevel("min_db", sub.MinDB)
	if err != nil {
		return loudness.Stream{}, loudness.Measurement{}, err
	}
	maxDB, err := requireLevel("max_db", sub.MaxDB)
	if err != nil {
		return loudness.Stream{}, loudness.Measurement{}, err
	}
	avgDB, err := requireLevel("avg_db", sub.AvgDB)
	if err != nil {
		return loudness.Stream{}, loudness.Measurement{}, err
	}

	status, ok := loudness.ParseStatus(sub.Status)
	if !ok {
		return loudness.Stream{}, loudness.Measurement{}, loudness.NewInputError("status", "must be one of normal, too_low, too_loud")
	}
	if status == "" {
		status, _ = s.thresholds.Classify(avgDB)
	}

	if minDB > maxDB {
		return loudness.Stream{}, loudness.Measurement{}, loudness.NewInputError("min_db", "must not exceed max_db")
	}

	// StreamID is resolved inside the transaction.
	m := loudness.Measurement{
		Timestamp: ts,
		MinDB:     minDB,
		MaxDB:     maxDB,
		AvgDB:     avgDB,
		Status:    status,
	}
	return stream, m, nil
}

func requireLevel(field string, value *float64) (float64, error) {
	if value == nil {
		return 0, loudness.NewInputError(field, "is required")
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		return 0, loudness.NewInputError(field, "must be a finite number")
	}
	return *value, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 instants; values without an offset are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("is required")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.New("must be an ISO-8601 timestamp")
}
