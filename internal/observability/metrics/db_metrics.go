package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "streams",
			Help: "Registered streams",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM streams")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "measurements_last_24h",
			Help: "Measurements recorded in the last 24 hours",
		},
		func() float64 {
			return queryCount(db, logger, `SELECT COUNT(*) FROM measurements WHERE "timestamp" >= now() - interval '24 hours'`)
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
