// internal/monitoring/maintenance.go - Background store upkeep
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dwmon/internal/database"
	"dwmon/internal/metrics"
)

// Maintenance compacts the result store and refreshes store gauges on a
// schedule.
type Maintenance struct {
	store   database.Store
	metrics *metrics.Collector
}

func NewMaintenance(store database.Store, collector *metrics.Collector) *Maintenance {
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Maintenance{store: store, metrics: collector}
}

// Compact rewrites the store file when the backend supports it.
func (m *Maintenance) Compact(ctx context.Context) error {
	compacter, ok := m.store.(database.Compacter)
	if !ok {
		logrus.Debug("Result store does not support compaction")
		return nil
	}

	start := time.Now()
	if err := compacter.CompactDatabase(ctx); err != nil {
		metrics.DatabaseOperations.WithLabelValues("compact", "error").Inc()
		return fmt.Errorf("failed to compact result store: %w", err)
	}
	metrics.DatabaseOperations.WithLabelValues("compact", "success").Inc()

	logrus.WithField("duration", time.Since(start)).Info("Result store compacted")
	return m.metrics.UpdateSystemMetrics(ctx)
}

// SchedulePeriodicCompaction compacts once per interval until ctx is done.
// A non-positive interval disables it.
func (m *Maintenance) SchedulePeriodicCompaction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logrus.Debug("Stopping periodic compaction")
				return
			case <-ticker.C:
				logrus.Debug("Running scheduled compaction")
				if err := m.Compact(ctx); err != nil {
					logrus.WithError(err).Error("Scheduled compaction failed")
				}
			}
		}
	}()

	logrus.WithField("interval", interval).Info("Scheduled periodic compaction")
}
