package application

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	loudness "loudness-monitor/internal/loudness/domain"
	"loudness-monitor/internal/loudness/infrastructure/memory"
)

func seededDates(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	seed(t, store, "udp://a",
		loudness.Measurement{Timestamp: ts("2025-01-01T23:59:59Z"), AvgDB: -20},
		loudness.Measurement{Timestamp: ts("2025-01-03T00:00:00Z"), AvgDB: -20},
		loudness.Measurement{Timestamp: ts("2025-01-03T12:00:00Z"), AvgDB: -20},
	)
	seed(t, store, "udp://b",
		loudness.Measurement{Timestamp: ts("2025-01-05T08:00:00Z"), AvgDB: -20},
	)
	return store
}

func TestDateIndexStrategiesAgree(t *testing.T) {
	want := []string{"2025-01-01", "2025-01-03", "2025-01-05"}
	for _, strategy := range []DateStrategy{DateStrategyProbe, DateStrategyScan} {
		strategy := strategy
		t.Run(string(strategy), func(t *testing.T) {
			idx, err := NewDateIndex(seededDates(t), strategy, 0, quietLogger(&bytes.Buffer{}))
			if err != nil {
				t.Fatalf("new date index: %v", err)
			}
			got, err := idx.Dates(context.Background())
			if err != nil {
				t.Fatalf("dates: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
		})
	}
}

func TestDateIndexEmptyStore(t *testing.T) {
	for _, strategy := range []DateStrategy{DateStrategyProbe, DateStrategyScan} {
		idx, _ := NewDateIndex(memory.NewStore(), strategy, 0, nil)
		got, err := idx.Dates(context.Background())
		if err != nil {
			t.Fatalf("%s dates: %v", strategy, err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("%s: expected empty non-nil slice, got %#v", strategy, got)
		}
	}
}

func TestDateIndexProbeUsesHalfOpenDays(t *testing.T) {
	repo := &countingRepo{MeasurementRepository: seededDates(t)}
	idx, _ := NewDateIndex(repo, DateStrategyProbe, 0, nil)
	if _, err := idx.Dates(context.Background()); err != nil {
		t.Fatalf("dates: %v", err)
	}
	// min, max, then one probe per day from 01 to 05
	if len(repo.queries) != 7 {
		t.Fatalf("expected 7 queries, got %d", len(repo.queries))
	}
	for _, q := range repo.queries[2:] {
		if q.Limit != 1 || q.Until.Sub(q.From).Hours() != 24 {
			t.Fatalf("unexpected probe %+v", q)
		}
	}
}

func TestDateIndexScanLogsCap(t *testing.T) {
	var logs bytes.Buffer
	idx, _ := NewDateIndex(seededDates(t), DateStrategyScan, 2, quietLogger(&logs))
	got, err := idx.Dates(context.Background())
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"2025-01-01", "2025-01-03"}) {
		t.Fatalf("unexpected dates %v", got)
	}
	if logs.Len() == 0 {
		t.Fatalf("expected cap warning")
	}
}

func TestDateIndexStoreError(t *testing.T) {
	repo := &countingRepo{MeasurementRepository: memory.NewStore(), err: errors.New("timeout")}
	idx, _ := NewDateIndex(repo, DateStrategyProbe, 0, nil)
	_, err := idx.Dates(context.Background())
	var storeErr *loudness.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestParseDateStrategy(t *testing.T) {
	if s, err := ParseDateStrategy(""); err != nil || s != DateStrategyProbe {
		t.Fatalf("expected probe default, got %s %v", s, err)
	}
	if s, err := ParseDateStrategy("SCAN"); err != nil || s != DateStrategyScan {
		t.Fatalf("expected scan, got %s %v", s, err)
	}
	if _, err := ParseDateStrategy("guess"); !errors.Is(err, ErrUnknownDateStrategy) {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
}
