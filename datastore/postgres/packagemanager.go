package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

var (
	packageManagerCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "packagemanager_total",
			Help:      "Total number of database queries issued in the PackageManager method.",
		},
		[]string{"query"},
	)
	packageManagerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "packagemanager_duration_seconds",
			Help:      "The duration of all queries issued in the PackageManager method.",
		},
		[]string{"query"},
	)
)

// PackageManager returns the row for the named ecosystem, creating it on
// first use.
func (s *Store) PackageManager(ctx context.Context, name string) (chai.PackageManager, error) {
	const (
		insert = `INSERT INTO package_managers (name) VALUES ($1) ON CONFLICT (name) DO NOTHING;`
		get    = `SELECT id, name FROM package_managers WHERE name = $1;`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.PackageManager")

	var pm chai.PackageManager
	start := time.Now()
	if _, err := s.pool.Exec(ctx, insert, name); err != nil {
		return pm, fmt.Errorf("failed to create package manager %q: %w", name, err)
	}
	packageManagerCounter.WithLabelValues("insert").Add(1)
	packageManagerDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())

	start = time.Now()
	if err := s.pool.QueryRow(ctx, get, name).Scan(&pm.ID, &pm.Name); err != nil {
		return pm, fmt.Errorf("failed to read package manager %q: %w", name, err)
	}
	packageManagerCounter.WithLabelValues("get").Add(1)
	packageManagerDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	return pm, nil
}
