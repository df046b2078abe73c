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
	"github.com/teaxyz/chai/pkg/urlnorm"
)

var (
	currentURLsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "currenturls_total",
			Help:      "Total number of database queries issued in the CurrentURLs method.",
		},
		[]string{"query"},
	)
	currentURLsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "currenturls_duration_seconds",
			Help:      "The duration of all queries issued in the CurrentURLs method.",
		},
		[]string{"query"},
	)
)

// CurrentURLs materializes every canonical URL referenced by packages of the
// package manager, and the link set.
//
// URL rows predating canonicalization stay in the store but are omitted
// here, so the diff engine never uses them as a baseline.
func (s *Store) CurrentURLs(ctx context.Context, pm uuid.UUID) (*datastore.URLSet, error) {
	const query = `
	SELECT u.id, u.url, u.url_type_id, u.created_at, u.updated_at, pu.package_id
	FROM urls AS u
		JOIN package_urls AS pu ON (pu.url_id = u.id)
		JOIN packages AS p ON (p.id = pu.package_id)
	WHERE p.package_manager_id = $1;`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CurrentURLs")

	set := &datastore.URLSet{
		URLs:  make(map[chai.URLKey]chai.URL),
		Links: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, pm)
	if err != nil {
		return nil, fmt.Errorf("failed to query urls: %w", err)
	}
	defer rows.Close()
	var skipped int
	for rows.Next() {
		var u chai.URL
		var pkg uuid.UUID
		if err := rows.Scan(&u.ID, &u.URL, &u.URLTypeID, &u.CreatedAt, &u.UpdatedAt, &pkg); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		if links, ok := set.Links[pkg]; ok {
			links[u.ID] = struct{}{}
		} else {
			set.Links[pkg] = map[uuid.UUID]struct{}{u.ID: {}}
		}
		if !urlnorm.IsCanonical(u.URL) {
			skipped++
			continue
		}
		set.URLs[chai.URLKey{URL: u.URL, TypeID: u.URLTypeID}] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	currentURLsCounter.WithLabelValues("urls").Add(1)
	currentURLsDuration.WithLabelValues("urls").Observe(time.Since(start).Seconds())

	if skipped != 0 {
		zlog.Debug(ctx).
			Int("count", skipped).
			Msg("omitted non-canonical urls from baseline")
	}
	zlog.Debug(ctx).
		Int("urls", len(set.URLs)).
		Int("linked_packages", len(set.Links)).
		Msg("current urls loaded")
	return set, nil
}
