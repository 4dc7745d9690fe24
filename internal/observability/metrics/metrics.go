package metrics

import (
	"database/sql"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "loudness_"

	resultSuccess = "success"
	resultInvalid = "invalid"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	sinkErrors     *prometheus.CounterVec

	matrixTotal   *prometheus.CounterVec
	matrixLatency *prometheus.HistogramVec

	datesTotal   *prometheus.CounterVec
	datesLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	syncPolls *prometheus.CounterVec
	syncAdded prometheus.Counter

	consumerMessages *prometheus.CounterVec
)

// Init registers service metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total submissions by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Submission latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		sinkErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_errors_total",
				Help: "Measurement mirror write failures by sink",
			},
			[]string{"sink"},
		)

		matrixTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "matrix_requests_total",
				Help: "Total matrix aggregations by policy and truncation",
			},
			[]string{"policy", "truncated"},
		)
		matrixLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "matrix_latency_seconds",
				Help:    "Matrix aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		)

		datesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dates_requests_total",
				Help: "Total date index lookups by strategy and result",
			},
			[]string{"strategy", "result"},
		)
		datesLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dates_latency_seconds",
				Help:    "Date index latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "matrix_export_total",
				Help: "Total matrix exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "matrix_export_latency_seconds",
				Help:    "Matrix export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		syncPolls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_polls_total",
				Help: "Total sync client polls by outcome",
			},
			[]string{"outcome"},
		)
		syncAdded = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_added_total",
				Help: "Measurements merged into the sync collection",
			},
		)

		consumerMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consumer_messages_total",
				Help: "Kafka submissions consumed by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			sinkErrors,
			matrixTotal,
			matrixLatency,
			datesTotal,
			datesLatency,
			exportTotal,
			exportLatency,
			syncPolls,
			syncAdded,
			consumerMessages,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records submission duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSinkError counts a failed mirror write.
func IncSinkError(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	if sinkErrors != nil {
		sinkErrors.WithLabelValues(sink).Inc()
	}
}

// ObserveMatrix records an aggregation.
func ObserveMatrix(policy string, truncated bool, duration time.Duration) {
	if policy == "" {
		policy = "unknown"
	}
	if matrixTotal != nil {
		matrixTotal.WithLabelValues(policy, strconv.FormatBool(truncated)).Inc()
	}
	if matrixLatency != nil {
		matrixLatency.WithLabelValues(policy).Observe(duration.Seconds())
	}
}

// ObserveDates records a date index lookup.
func ObserveDates(strategy, result string, duration time.Duration) {
	if strategy == "" {
		strategy = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if datesTotal != nil {
		datesTotal.WithLabelValues(strategy, result).Inc()
	}
	if datesLatency != nil {
		datesLatency.WithLabelValues(strategy).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveSyncPoll records one sync client poll.
func ObserveSyncPoll(outcome string, added int) {
	if outcome == "" {
		outcome = "unknown"
	}
	if syncPolls != nil {
		syncPolls.WithLabelValues(outcome).Inc()
	}
	if syncAdded != nil && added > 0 {
		syncAdded.Add(float64(added))
	}
}

// IncConsumerMessage counts a consumed Kafka submission.
func IncConsumerMessage(result string) {
	if result == "" {
		result = "unknown"
	}
	if consumerMessages != nil {
		consumerMessages.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultInvalid = resultInvalid
	ResultError   = resultError
)
