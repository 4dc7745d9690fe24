package influx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	loudness "loudness-monitor/internal/loudness/domain"
	"loudness-monitor/internal/observability/metrics"
)

const measurementName = "loudness"

// Config addresses an InfluxDB v2 bucket.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Sink mirrors committed measurements into InfluxDB.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewSink creates the client. It does not contact the server; see Ping.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx: url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Ping verifies connectivity and credentials.
func (s *Sink) Ping(ctx context.Context) error {
	if _, err := s.client.Health(ctx); err != nil {
		return fmt.Errorf("influx: health: %w", err)
	}
	return nil
}

// Write stores one measurement point tagged by stream.
func (s *Sink) Write(ctx context.Context, stream loudness.Stream, m loudness.Measurement) error {
	if err := s.writeAPI.WritePoint(ctx, point(stream, m)); err != nil {
		metrics.IncSinkError("influxdb")
		return fmt.Errorf("influx: write: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() {
	s.client.Close()
}

func point(stream loudness.Stream, m loudness.Measurement) *write.Point {
	tags := map[string]string{
		"stream_id": strconv.FormatInt(int64(m.StreamID), 10),
		"mcast_url": stream.McastURL,
	}
	if m.Status != "" {
		tags["status"] = string(m.Status)
	}
	return write.NewPoint(
		measurementName,
		tags,
		map[string]interface{}{
			"min_db": m.MinDB,
			"max_db": m.MaxDB,
			"avg_db": m.AvgDB,
		},
		m.Timestamp,
	)
}
