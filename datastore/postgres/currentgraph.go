package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
)

var (
	currentGraphCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "currentgraph_total",
			Help:      "Total number of database queries issued in the CurrentGraph method.",
		},
		[]string{"query"},
	)
	currentGraphDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "currentgraph_duration_seconds",
			Help:      "The duration of all queries issued in the CurrentGraph method.",
		},
		[]string{"query"},
	)
)

// CurrentGraph materializes every package of the package manager along with
// its dependency edges.
func (s *Store) CurrentGraph(ctx context.Context, pm uuid.UUID) (*datastore.Graph, error) {
	const (
		packages = `
		SELECT id, package_manager_id, import_id, derived_id, name, COALESCE(readme, ''), created_at, updated_at
		FROM packages
		WHERE package_manager_id = $1;`
		deps = `
		SELECT d.id, d.package_id, d.dependency_id, d.dependency_type_id, COALESCE(d.semver_range, ''), d.created_at, d.updated_at
		FROM dependencies AS d
			JOIN packages AS p ON (p.id = d.package_id)
		WHERE p.package_manager_id = $1;`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CurrentGraph")

	g := &datastore.Graph{
		Packages:     make(map[string]chai.Package),
		Dependencies: make(map[uuid.UUID][]chai.Dependency),
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, packages, pm)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	for rows.Next() {
		var p chai.Package
		err := rows.Scan(&p.ID, &p.PackageManagerID, &p.ImportID, &p.DerivedID, &p.Name, &p.Readme, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		g.Packages[p.ImportID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	currentGraphCounter.WithLabelValues("packages").Add(1)
	currentGraphDuration.WithLabelValues("packages").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, deps, pm)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()
	var ct int
	for rows.Next() {
		var d chai.Dependency
		err := rows.Scan(&d.ID, &d.PackageID, &d.DependencyID, &d.DependencyTypeID, &d.SemverRange, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		g.Dependencies[d.PackageID] = append(g.Dependencies[d.PackageID], d)
		ct++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	currentGraphCounter.WithLabelValues("dependencies").Add(1)
	currentGraphDuration.WithLabelValues("dependencies").Observe(time.Since(start).Seconds())

	zlog.Debug(ctx).
		Int("packages", len(g.Packages)).
		Int("dependencies", ct).
		Msg("current graph loaded")
	return g, nil
}
