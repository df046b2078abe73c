package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
)

var (
	recordLoadCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "recordload_total",
			Help:      "Total number of database queries issued in the RecordLoad method.",
		},
		[]string{"query"},
	)
	recordLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "recordload_duration_seconds",
			Help:      "The duration of all queries issued in the RecordLoad method.",
		},
		[]string{"query"},
	)
)

// RecordLoad marks one successful pipeline run. Readers treat the newest
// load_history row as the authoritative-state watermark.
func (s *Store) RecordLoad(ctx context.Context, pm uuid.UUID) error {
	const query = `INSERT INTO load_history (package_manager_id) VALUES ($1);`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.RecordLoad")

	start := time.Now()
	if _, err := s.pool.Exec(ctx, query, pm); err != nil {
		return fmt.Errorf("failed to record load: %w", err)
	}
	recordLoadCounter.WithLabelValues("insert").Add(1)
	recordLoadDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	return nil
}
