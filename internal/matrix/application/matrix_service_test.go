package application

import (
	"bytes"
	"context"
	"errors"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
	"loudness-monitor/internal/loudness/infrastructure/memory"
	matrix "loudness-monitor/internal/matrix/domain"
)

func seed(t *testing.T, store *memory.Store, url string, samples ...loudness.Measurement) loudness.StreamID {
	t.Helper()
	ctx := context.Background()
	id, err := store.Upsert(ctx, loudness.Stream{Name: url, McastURL: url})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, m := range samples {
		m.StreamID = id
		if m.MaxDB == 0 && m.MinDB == 0 {
			m.MinDB, m.MaxDB = m.AvgDB, m.AvgDB
		}
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return id
}

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func day(t *testing.T, value string) matrix.Day {
	t.Helper()
	d, err := matrix.ParseDay(value)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	return d
}

// countingRepo records every query made against the wrapped repository.
type countingRepo struct {
	loudness.MeasurementRepository
	mu      sync.Mutex
	queries []loudness.MeasurementQuery
	err     error
}

func (c *countingRepo) Select(ctx context.Context, q loudness.MeasurementQuery) ([]loudness.Measurement, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.MeasurementRepository.Select(ctx, q)
}

func quietLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(buf, "", 0)
}

func TestMatrixServiceScenario(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "udp://239.0.0.1:1234",
		loudness.Measurement{Timestamp: ts("2025-01-01T14:03:00Z"), AvgDB: -23.4},
		loudness.Measurement{Timestamp: ts("2025-01-01T14:07:00Z"), AvgDB: -22.8},
	)
	seed(t, store, "udp://239.0.0.2:1234")

	svc, err := NewMatrixService(store, store, quietLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("new matrix service: %v", err)
	}
	res, err := svc.Aggregate(context.Background(), day(t, "2025-01-01"))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(res.Rows) != 2 || res.Truncated || res.Fetched != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := res.Rows[0].Readings["14:00"]; got != "-23.1 dB" {
		t.Fatalf("expected -23.1 dB, got %q", got)
	}
}

func TestMatrixServicePaginatesAndFlagsTruncation(t *testing.T) {
	store := memory.NewStore()
	var samples []loudness.Measurement
	base := ts("2025-01-01T10:00:00Z")
	for i := 0; i < 25; i++ {
		samples = append(samples, loudness.Measurement{Timestamp: base.Add(time.Duration(i) * time.Minute), AvgDB: -20})
	}
	seed(t, store, "udp://a", samples...)

	repo := &countingRepo{MeasurementRepository: store}
	var logs bytes.Buffer
	svc, err := NewMatrixService(store, repo, quietLogger(&logs), WithRowCap(20, 7))
	if err != nil {
		t.Fatalf("new matrix service: %v", err)
	}
	res, err := svc.Aggregate(context.Background(), day(t, "2025-01-01"))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !res.Truncated || res.Fetched != 20 {
		t.Fatalf("expected truncated 20 rows, got %+v", res)
	}
	if !strings.Contains(logs.String(), "row cap reached") {
		t.Fatalf("expected truncation logged, got %q", logs.String())
	}
	// 7 + 7 + 6 then one look-ahead row
	if len(repo.queries) != 4 || repo.queries[2].Limit != 6 || repo.queries[3].Limit != 1 {
		t.Fatalf("unexpected queries: %+v", repo.queries)
	}
	if repo.queries[1].Cursor == nil {
		t.Fatalf("expected keyset cursor on second page")
	}
}

func TestMatrixServiceExactCapIsComplete(t *testing.T) {
	store := memory.NewStore()
	base := ts("2025-01-01T10:00:00Z")
	var samples []loudness.Measurement
	for i := 0; i < 10; i++ {
		samples = append(samples, loudness.Measurement{Timestamp: base.Add(time.Duration(i) * time.Minute), AvgDB: -20})
	}
	seed(t, store, "udp://a", samples...)

	svc, _ := NewMatrixService(store, store, quietLogger(&bytes.Buffer{}), WithRowCap(10, 5))
	res, err := svc.Aggregate(context.Background(), day(t, "2025-01-01"))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if res.Truncated || res.Fetched != 10 {
		t.Fatalf("expected complete result, got %+v", res)
	}
}

func TestMatrixServiceStoreFailure(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "udp://a")
	repo := &countingRepo{MeasurementRepository: store, err: errors.New("connection refused")}

	svc, _ := NewMatrixService(store, repo, quietLogger(&bytes.Buffer{}))
	_, err := svc.Aggregate(context.Background(), day(t, "2025-01-01"))
	var storeErr *loudness.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "matrix.measurements" {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestMatrixServicePolicyOverride(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "udp://a",
		loudness.Measurement{Timestamp: ts("2025-01-01T14:03:00Z"), AvgDB: -20},
		loudness.Measurement{Timestamp: ts("2025-01-01T14:07:00Z"), AvgDB: -30},
	)
	svc, _ := NewMatrixService(store, store, quietLogger(&bytes.Buffer{}))
	policy, _ := matrix.DynamicMinutes(5)

	var observed []string
	svc.observe = func(p string, _ bool, _ time.Duration) { observed = append(observed, p) }

	res, err := svc.AggregateWith(context.Background(), day(t, "2025-01-01"), policy)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	keys := make([]string, 0)
	for k := range res.Rows[0].Readings {
		keys = append(keys, k)
	}
	if len(keys) != 2 || res.Rows[0].Readings["14:00"] != "-20.0 dB" || res.Rows[0].Readings["14:05"] != "-30.0 dB" {
		t.Fatalf("unexpected readings: %+v", res.Rows[0].Readings)
	}
	if !reflect.DeepEqual(observed, []string{"5m"}) {
		t.Fatalf("unexpected observations: %v", observed)
	}
}
