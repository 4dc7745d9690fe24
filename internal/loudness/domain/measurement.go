package loudness

import (
	"context"
	"strings"
	"time"
)

// StreamID references a registered stream.
type StreamID int64

// Status classifies a measurement against loudness thresholds.
type Status string

const (
	StatusNormal  Status = "normal"
	StatusTooLow  Status = "too_low"
	StatusTooLoud Status = "too_loud"
)

// ParseStatus normalizes a status string. Analyzer aliases are accepted.
// An empty value returns ("", true) so the caller can derive it.
func ParseStatus(value string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", true
	case "normal", "acceptable":
		return StatusNormal, true
	case "too_low", "low":
		return StatusTooLow, true
	case "too_loud", "loud":
		return StatusTooLoud, true
	default:
		return "", false
	}
}

// Stream is a registered signal channel, unique by multicast url.
type Stream struct {
	ID       StreamID `json:"id"`
	Name     string   `json:"name"`
	Node     string   `json:"node"`
	Profile  string   `json:"profile"`
	McastURL string   `json:"mcast_url"`
}

// Validate checks stream invariants.
func (s Stream) Validate() error {
	if strings.TrimSpace(s.McastURL) == "" {
		return NewInputError("mcast_url", "is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return NewInputError("name", "is required")
	}
	return nil
}

// Measurement is one loudness sample for a stream.
type Measurement struct {
	ID        int64     `json:"id,omitempty"`
	StreamID  StreamID  `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
	MinDB     float64   `json:"min_db"`
	MaxDB     float64   `json:"max_db"`
	AvgDB     float64   `json:"avg_db"`
	Status    Status    `json:"status,omitempty"`
}

// Key identifies a measurement for de-duplication.
type Key struct {
	StreamID  StreamID
	Timestamp int64
}

// Key returns the (stream_id, timestamp) identity of the measurement.
func (m Measurement) Key() Key {
	return Key{StreamID: m.StreamID, Timestamp: m.Timestamp.UnixNano()}
}

// Validate checks measurement invariants.
func (m Measurement) Validate() error {
	if m.StreamID <= 0 {
		return NewInputError("stream_id", "is required")
	}
	if m.Timestamp.IsZero() {
		return NewInputError("timestamp", "is required")
	}
	if m.MinDB > m.MaxDB {
		return NewInputError("min_db", "must not exceed max_db")
	}
	return nil
}

// Order is the timestamp sort direction for queries.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// Cursor is an exclusive keyset position in ascending (timestamp, id) order.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// MeasurementQuery filters a measurement selection.
// Zero values mean "unbounded" for every field.
type MeasurementQuery struct {
	From     time.Time // inclusive
	Until    time.Time // exclusive
	After    time.Time // exclusive lower bound
	StreamID StreamID
	Status   Status
	Cursor   *Cursor
	Order    Order
	Limit    int
}

// StreamRepository is the stream registry.
type StreamRepository interface {
	List(ctx context.Context) ([]Stream, error)
	// Upsert registers a stream or refreshes the one sharing its mcast_url.
	Upsert(ctx context.Context, stream Stream) (StreamID, error)
}

// MeasurementRepository stores and selects measurements.
type MeasurementRepository interface {
	Insert(ctx context.Context, measurement Measurement) error
	Select(ctx context.Context, query MeasurementQuery) ([]Measurement, error)
}

// Transactor runs fn against repositories sharing one atomic unit of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(streams StreamRepository, measurements MeasurementRepository) error) error
}

// Clock provides time for services.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now in UTC.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
