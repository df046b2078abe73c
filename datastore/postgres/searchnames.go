package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
)

var (
	searchNamesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "searchnames_total",
			Help:      "Total number of database queries issued in the SearchNames method.",
		},
		[]string{"query"},
	)
	searchNamesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "searchnames_duration_seconds",
			Help:      "The duration of all queries issued in the SearchNames method.",
		},
		[]string{"query"},
	)
)

// buildSearchNamesQuery builds the homepage search across the provided
// package managers.
func buildSearchNamesQuery(names []string, pms []uuid.UUID) (string, error) {
	psql := goqu.Dialect("postgres")
	ids := make([]string, len(pms))
	for i, pm := range pms {
		ids[i] = pm.String()
	}
	q := psql.From(goqu.T("packages")).
		Join(goqu.T("package_urls"), goqu.On(goqu.Ex{"package_urls.package_id": goqu.I("packages.id")})).
		Join(goqu.T("urls"), goqu.On(goqu.Ex{"urls.id": goqu.I("package_urls.url_id")})).
		Join(goqu.T("url_types"), goqu.On(goqu.Ex{"url_types.id": goqu.I("urls.url_type_id")})).
		Where(
			goqu.Ex{"packages.name": names},
			goqu.Ex{"packages.package_manager_id": ids},
			goqu.Ex{"url_types.name": "homepage"},
		).
		Select(goqu.I("urls.url")).
		Distinct().
		Order(goqu.I("urls.url").Asc())
	sql, _, err := q.ToSQL()
	if err != nil {
		return "", fmt.Errorf("failed to build query: %w", err)
	}
	return sql, nil
}

// SearchNames reports the homepage URLs of packages in the given package
// managers whose name matches any of the candidates.
//
// The pkgx adapter uses this to recover a homepage for projects whose
// pantry entry has none: another ecosystem may already know the project
// under the same name.
func (s *Store) SearchNames(ctx context.Context, names []string, pms []uuid.UUID) ([]string, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.SearchNames")
	if len(names) == 0 || len(pms) == 0 {
		return nil, nil
	}
	query, err := buildSearchNamesQuery(names, pms)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search names: %w", err)
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	searchNamesCounter.WithLabelValues("search").Add(1)
	searchNamesDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	return urls, nil
}
