// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dwmon/internal/database"
)

// Prometheus metrics
var (
	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_checks_total",
			Help: "Total number of minute evaluations by outcome",
		},
		[]string{"checker", "status"},
	)

	WindowEventCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwmon_window_event_count",
			Help: "Events counted in the most recent evaluated window",
		},
		[]string{"checker"},
	)

	CheckerStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwmon_checker_status",
			Help: "Outcome of the most recent evaluation (0=GOOD, 1=BAD)",
		},
		[]string{"checker"},
	)

	EligibleMinutes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_eligible_minutes_total",
			Help: "Minutes found due for evaluation",
		},
		[]string{"checker"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwmon_fetch_duration_seconds",
			Help:    "Time spent fetching rows from checker sources",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"checker", "status"},
	)

	RowsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_rows_fetched_total",
			Help: "Rows returned by checker queries",
		},
		[]string{"checker"},
	)

	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_rows_inserted_total",
			Help: "New rows merged into the result store",
		},
		[]string{"checker"},
	)

	RowsPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_rows_purged_total",
			Help: "Rows deleted by the row purger",
		},
		[]string{"checker"},
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwmon_pass_duration_seconds",
			Help:    "Time spent on one pass over all checkers",
			Buckets: prometheus.DefBuckets,
		},
	)

	PassErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_pass_errors_total",
			Help: "Errors raised while checking, by operation",
		},
		[]string{"checker", "operation"},
	)

	StoredEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwmon_stored_events",
			Help: "Events held in the result store",
		},
	)

	StoredAudits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwmon_stored_audits",
			Help: "Audit rows held in the result store",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwmon_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwmon_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.ExtendedStore
}

// NewCollector accepts a nil store; UpdateSystemMetrics then does nothing.
func NewCollector(store database.ExtendedStore) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordCheckResult(checker, status string, eventCount int) {
	CheckTotal.WithLabelValues(checker, status).Inc()
	WindowEventCount.WithLabelValues(checker).Set(float64(eventCount))
	CheckerStatus.WithLabelValues(checker).Set(statusValue(status))
}

func (c *Collector) RecordEligible(checker string, minutes int) {
	EligibleMinutes.WithLabelValues(checker).Add(float64(minutes))
}

func (c *Collector) RecordFetch(checker string, fetched, inserted int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FetchDuration.WithLabelValues(checker, status).Observe(duration.Seconds())
	if err != nil {
		return
	}
	RowsFetched.WithLabelValues(checker).Add(float64(fetched))
	RowsInserted.WithLabelValues(checker).Add(float64(inserted))
}

func (c *Collector) RecordPurge(checker string, deleted int) {
	RowsPurged.WithLabelValues(checker).Add(float64(deleted))
}

func (c *Collector) RecordPass(duration time.Duration) {
	PassDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordError(checker, operation string) {
	PassErrors.WithLabelValues(checker, operation).Inc()
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	stats, err := c.store.GetDatabaseStats(ctx)
	if err != nil {
		DatabaseOperations.WithLabelValues("database_stats", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("database_stats", "success").Inc()

	StoredEvents.Set(float64(stats.TotalEvents))
	StoredAudits.Set(float64(stats.TotalAudits))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

func statusValue(status string) float64 {
	if status == "GOOD" {
		return 0
	}
	return 1
}
