package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserversBeforeInitAreNoops(t *testing.T) {
	// Package state is nil until Init runs.
	if ingestRequests != nil {
		t.Skip("metrics already initialised")
	}
	ObserveIngest(ResultSuccess, time.Millisecond)
	ObserveMatrix("hourly", false, time.Millisecond)
	ObserveSyncPoll("poll", 3)
}

func TestInitRegistersCounters(t *testing.T) {
	Init(nil, nil)
	Init(nil, nil)

	ObserveIngest(ResultInvalid, time.Millisecond)
	ObserveIngest(ResultInvalid, time.Millisecond)
	if got := testutil.ToFloat64(ingestRequests.WithLabelValues(ResultInvalid)); got != 2 {
		t.Fatalf("expected 2 invalid submissions, got %v", got)
	}

	ObserveMatrix("5m", true, time.Millisecond)
	if got := testutil.ToFloat64(matrixTotal.WithLabelValues("5m", "true")); got != 1 {
		t.Fatalf("expected truncated matrix count 1, got %v", got)
	}

	ObserveSyncPoll("poll", 4)
	ObserveSyncPoll("skipped", 0)
	if got := testutil.ToFloat64(syncAdded); got != 4 {
		t.Fatalf("expected 4 added, got %v", got)
	}

	IncSinkError("")
	if got := testutil.ToFloat64(sinkErrors.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected sink error under unknown, got %v", got)
	}
}
