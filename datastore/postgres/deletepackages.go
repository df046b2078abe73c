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
	deletePackagesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "deletepackages_total",
			Help:      "Total number of database queries issued in the DeletePackages method.",
		},
		[]string{"query"},
	)
	deletePackagesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "deletepackages_duration_seconds",
			Help:      "The duration of all queries issued in the DeletePackages method.",
		},
		[]string{"query"},
	)
)

// DeletePackages removes the named packages and every edge that references
// them. URL rows and canons survive; only the links go.
//
// The number of packages deleted is returned.
func (s *Store) DeletePackages(ctx context.Context, pm uuid.UUID, importIDs []string) (int64, error) {
	// Dependency, package_urls, user_packages and canon_packages rows are
	// removed by ON DELETE CASCADE.
	const query = `
	DELETE FROM packages
	WHERE package_manager_id = $1 AND import_id = ANY($2::text[]);`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.DeletePackages")

	if len(importIDs) == 0 {
		return 0, nil
	}
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, pm, importIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete packages: %w", err)
	}
	deletePackagesCounter.WithLabelValues("delete").Add(1)
	deletePackagesDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	zlog.Info(ctx).
		Int64("deleted", tag.RowsAffected()).
		Int("requested", len(importIDs)).
		Msg("packages deleted")
	return tag.RowsAffected(), nil
}
