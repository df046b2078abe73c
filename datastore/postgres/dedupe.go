package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
	"github.com/teaxyz/chai/pkg/microbatch"
)

var (
	dedupeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "dedupe_total",
			Help:      "Total number of database queries issued in the deduper methods.",
		},
		[]string{"query"},
	)
	dedupeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "dedupe_duration_seconds",
			Help:      "The duration of all queries issued in the deduper methods.",
		},
		[]string{"query"},
	)
)

// Canons returns every canon, keyed by canonical URL.
func (s *Store) Canons(ctx context.Context) (map[string]chai.Canon, error) {
	const query = `SELECT id, url, name, created_at, updated_at FROM canons;`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.Canons")

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query canons: %w", err)
	}
	defer rows.Close()
	m := make(map[string]chai.Canon)
	for rows.Next() {
		var c chai.Canon
		if err := rows.Scan(&c.ID, &c.URL, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan canon: %w", err)
		}
		m[c.URL] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	dedupeCounter.WithLabelValues("canons").Add(1)
	dedupeDuration.WithLabelValues("canons").Observe(time.Since(start).Seconds())
	return m, nil
}

// CanonPackages returns the current package→canon assignment.
func (s *Store) CanonPackages(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	const query = `SELECT package_id, canon_id FROM canon_packages;`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.CanonPackages")

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query canon packages: %w", err)
	}
	defer rows.Close()
	m := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var pkg, canon uuid.UUID
		if err := rows.Scan(&pkg, &canon); err != nil {
			return nil, fmt.Errorf("failed to scan canon package: %w", err)
		}
		m[pkg] = canon
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	dedupeCounter.WithLabelValues("canon_packages").Add(1)
	dedupeDuration.WithLabelValues("canon_packages").Observe(time.Since(start).Seconds())
	return m, nil
}

// PackageHomepages returns, for every package with at least one homepage
// URL, its homepages ordered newest first per package. The package name
// rides along so the deduper can name new canons.
func (s *Store) PackageHomepages(ctx context.Context) ([]datastore.PackageHomepage, error) {
	const query = `
	SELECT p.id, p.name, u.id, u.url, u.url_type_id, u.created_at, u.updated_at
	FROM packages AS p
		JOIN package_urls AS pu ON (pu.package_id = p.id)
		JOIN urls AS u ON (u.id = pu.url_id)
		JOIN url_types AS ut ON (ut.id = u.url_type_id)
	WHERE ut.name = 'homepage'
	ORDER BY p.id, u.updated_at DESC;`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.PackageHomepages")

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query homepages: %w", err)
	}
	defer rows.Close()
	var out []datastore.PackageHomepage
	for rows.Next() {
		var ph datastore.PackageHomepage
		err := rows.Scan(&ph.PackageID, &ph.PackageName, &ph.URL.ID, &ph.URL.URL, &ph.URL.URLTypeID, &ph.URL.CreatedAt, &ph.URL.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan homepage: %w", err)
		}
		out = append(out, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	dedupeCounter.WithLabelValues("homepages").Add(1)
	dedupeDuration.WithLabelValues("homepages").Observe(time.Since(start).Seconds())
	return out, nil
}

// ApplyDedupe applies the delta in a single transaction.
func (s *Store) ApplyDedupe(ctx context.Context, delta *chai.CanonDelta) error {
	const (
		insertCanon = `
		INSERT INTO canons (id, url, name) VALUES ($1, $2, $3)
		ON CONFLICT (url) DO NOTHING;`
		insertCanonPackage = `
		INSERT INTO canon_packages (id, canon_id, package_id) VALUES ($1, $2, $3)
		ON CONFLICT (package_id) DO UPDATE
		SET canon_id = EXCLUDED.canon_id, updated_at = now();`
		moveCanonPackage = `
		UPDATE canon_packages SET canon_id = $2, updated_at = now() WHERE package_id = $1;`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ApplyDedupe")

	if delta.Empty() {
		zlog.Debug(ctx).Msg("empty delta, nothing to apply")
		return nil
	}

	start := time.Now()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		mBatcher := microbatch.NewInsert(tx, 500, time.Minute)
		for i := range delta.NewCanons {
			c := &delta.NewCanons[i]
			if err := mBatcher.Queue(ctx, insertCanon, c.ID, c.URL, c.Name); err != nil {
				return fmt.Errorf("failed to queue canon: %w", err)
			}
		}
		if err := mBatcher.Done(ctx); err != nil {
			return fmt.Errorf("failed to insert canons: %w", err)
		}
		dedupeCounter.WithLabelValues("insert_canons").Add(1)

		mBatcher = microbatch.NewInsert(tx, 500, time.Minute)
		for i := range delta.NewCanonPackages {
			cp := &delta.NewCanonPackages[i]
			if err := mBatcher.Queue(ctx, insertCanonPackage, cp.ID, cp.CanonID, cp.PackageID); err != nil {
				return fmt.Errorf("failed to queue canon package: %w", err)
			}
		}
		if err := mBatcher.Done(ctx); err != nil {
			return fmt.Errorf("failed to insert canon packages: %w", err)
		}
		dedupeCounter.WithLabelValues("insert_canon_packages").Add(1)

		mBatcher = microbatch.NewInsert(tx, 500, time.Minute)
		for _, mv := range delta.Moves {
			if err := mBatcher.Queue(ctx, moveCanonPackage, mv.PackageID, mv.CanonID); err != nil {
				return fmt.Errorf("failed to queue canon move: %w", err)
			}
		}
		if err := mBatcher.Done(ctx); err != nil {
			return fmt.Errorf("failed to move canon packages: %w", err)
		}
		dedupeCounter.WithLabelValues("moves").Add(1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dedupe transaction failed: %w", err)
	}
	dedupeDuration.WithLabelValues("tx").Observe(time.Since(start).Seconds())

	zlog.Info(ctx).
		Int("new_canons", len(delta.NewCanons)).
		Int("new_canon_packages", len(delta.NewCanonPackages)).
		Int("moves", len(delta.Moves)).
		Msg("dedupe delta applied")
	return nil
}
