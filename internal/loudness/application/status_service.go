package application

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
)

const defaultStatusWindow = 24 * time.Hour

// StatusCounts tallies measurements per status.
type StatusCounts struct {
	Normal  int `json:"normal"`
	TooLow  int `json:"too_low"`
	TooLoud int `json:"too_loud"`
}

// StatusPercentages are StatusCounts as percentages rounded to one decimal.
type StatusPercentages struct {
	Normal  float64 `json:"normal"`
	TooLow  float64 `json:"too_low"`
	TooLoud float64 `json:"too_loud"`
}

// StreamStatus summarizes one stream over the status window.
type StreamStatus struct {
	StreamID          loudness.StreamID     `json:"stream_id"`
	Name              string                `json:"name"`
	Profile           string                `json:"profile"`
	TotalMeasurements int                   `json:"total_measurements"`
	StatusCounts      StatusCounts          `json:"status_counts"`
	StatusPercentage  StatusPercentages     `json:"status_percentage"`
	LatestMeasurement *loudness.Measurement `json:"latest_measurement"`
	LatestStatus      loudness.Status       `json:"latest_status"`
}

// StatusSummary is the overall rollup.
type StatusSummary struct {
	TotalStreams      int       `json:"total_streams"`
	TotalMeasurements int       `json:"total_measurements"`
	StreamsWithIssues int       `json:"streams_with_issues"`
	Timestamp         time.Time `json:"timestamp"`
	// Truncated is set when the window held more rows than the row cap, so the
	// oldest rows are missing from the counts.
	Truncated         bool      `json:"truncated"`
}

// StatusReport is the /status response body.
type StatusReport struct {
	Summary StatusSummary  `json:"summary"`
	Streams []StreamStatus `json:"streams"`
}

// StatusService reports per-stream status counts over a trailing window.
type StatusService struct {
	streams      loudness.StreamRepository
	measurements loudness.MeasurementRepository
	clock        loudness.Clock
	window       time.Duration
	maxRows      int
	logger       *log.Logger
}

// NewStatusService constructs a StatusService.
func NewStatusService(streams loudness.StreamRepository, measurements loudness.MeasurementRepository, clock loudness.Clock, maxRows int, logger *log.Logger) (*StatusService, error) {
	if streams == nil || measurements == nil {
		return nil, errors.New("status service: nil repository")
	}
	if clock == nil {
		clock = loudness.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &StatusService{
		streams:      streams,
		measurements: measurements,
		clock:        clock,
		window:       defaultStatusWindow,
		maxRows:      maxRows,
		logger:       logger,
	}, nil
}

// Status builds the report. Only streams with measurements in the window appear,
// ordered by most recent activity.
func (s *StatusService) Status(ctx context.Context) (StatusReport, error) {
	now := s.clock.Now().UTC()
	rows, err := s.measurements.Select(ctx, loudness.MeasurementQuery{
		From:  now.Add(-s.window),
		Order: loudness.OrderDesc,
		Limit: s.maxRows,
	})
	if err != nil {
		return StatusReport{}, loudness.WrapStore("status.measurements", err)
	}
	streams, err := s.streams.List(ctx)
	if err != nil {
		return StatusReport{}, loudness.WrapStore("status.streams", err)
	}
	byID := make(map[loudness.StreamID]loudness.Stream, len(streams))
	for _, stream := range streams {
		byID[stream.ID] = stream
	}

	index := make(map[loudness.StreamID]int)
	result := make([]StreamStatus, 0)
	for i := range rows {
		m := rows[i]
		pos, ok := index[m.StreamID]
		if !ok {
			stream, known := byID[m.StreamID]
			entry := StreamStatus{StreamID: m.StreamID, Name: "Unknown", Profile: "unknown"}
			if known {
				entry.Name = stream.Name
				entry.Profile = stream.Profile
			}
			result = append(result, entry)
			pos = len(result) - 1
			index[m.StreamID] = pos
		}
		entry := &result[pos]
		status := m.Status
		if status == "" {
			status = loudness.StatusNormal
		}
		entry.TotalMeasurements++
		switch status {
		case loudness.StatusTooLow:
			entry.StatusCounts.TooLow++
		case loudness.StatusTooLoud:
			entry.StatusCounts.TooLoud++
		default:
			entry.StatusCounts.Normal++
		}
		if entry.LatestMeasurement == nil || m.Timestamp.After(entry.LatestMeasurement.Timestamp) {
			latest := m
			entry.LatestMeasurement = &latest
			entry.LatestStatus = status
		}
	}

	summary := StatusSummary{TotalStreams: len(result), Timestamp: now}
	if s.maxRows > 0 && len(rows) >= s.maxRows {
		summary.Truncated = true
		s.logger.Printf("status: row cap reached max_rows=%d window=%s", s.maxRows, s.window)
	}
	for i := range result {
		entry := &result[i]
		entry.StatusPercentage = percentages(entry.StatusCounts, entry.TotalMeasurements)
		summary.TotalMeasurements += entry.TotalMeasurements
		if entry.StatusCounts.TooLow > 0 || entry.StatusCounts.TooLoud > 0 {
			summary.StreamsWithIssues++
		}
	}
	return StatusReport{Summary: summary, Streams: result}, nil
}

func percentages(c StatusCounts, total int) StatusPercentages {
	if total == 0 {
		return StatusPercentages{}
	}
	pct := func(n int) float64 {
		return math.Round(float64(n)/float64(total)*1000) / 10
	}
	return StatusPercentages{Normal: pct(c.Normal), TooLow: pct(c.TooLow), TooLoud: pct(c.TooLoud)}
}
