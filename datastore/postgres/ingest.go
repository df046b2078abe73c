package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/pkg/microbatch"
)

var (
	ingestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "ingest_total",
			Help:      "Total number of database queries issued in the Ingest method.",
		},
		[]string{"query"},
	)
	ingestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "ingest_duration_seconds",
			Help:      "The duration of all queries issued in the Ingest method.",
		},
		[]string{"query"},
	)
)

// Ingest applies the delta in a single transaction.
//
// Writes are ordered packages, urls, package_urls, users, user_packages,
// dependency removals, dependency inserts so that foreign keys resolve and a
// type-changed edge lands as delete-then-insert. On error the transaction is
// rolled back and no partial state is visible.
func (s *Store) Ingest(ctx context.Context, delta *chai.Delta) error {
	const (
		insertPackage = `
		INSERT INTO packages (id, package_manager_id, import_id, derived_id, name, readme)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (package_manager_id, import_id) DO NOTHING;`
		updatePackage = `
		UPDATE packages SET readme = NULLIF($2, ''), updated_at = now() WHERE id = $1;`
		insertURL = `
		INSERT INTO urls (id, url, url_type_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (url, url_type_id) DO NOTHING;`
		insertPackageURL = `
		INSERT INTO package_urls (id, package_id, url_id)
		VALUES ($1, $2, (SELECT id FROM urls WHERE url = $3 AND url_type_id = $4))
		ON CONFLICT (package_id, url_id) DO NOTHING;`
		insertUser = `
		INSERT INTO users (id, username, source_id, import_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (username, source_id) DO NOTHING;`
		insertUserPackage = `
		INSERT INTO user_packages (id, user_id, package_id)
		VALUES ($1, (SELECT id FROM users WHERE username = $2 AND source_id = $3), $4)
		ON CONFLICT (user_id, package_id) DO NOTHING;`
		removeDependency = `
		DELETE FROM dependencies WHERE package_id = $1 AND dependency_id = $2;`
		insertDependency = `
		INSERT INTO dependencies (id, package_id, dependency_id, dependency_type_id, semver_range)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (package_id, dependency_id) DO UPDATE
		SET dependency_type_id = EXCLUDED.dependency_type_id,
			semver_range = EXCLUDED.semver_range,
			updated_at = now();`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.Ingest")

	if delta.Empty() {
		zlog.Debug(ctx).Msg("empty delta, nothing to ingest")
		return nil
	}

	start := time.Now()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		queue := func(label, query string) func(args ...any) error {
			mBatcher := microbatch.NewInsert(tx, 500, time.Minute)
			return func(args ...any) error {
				if args == nil {
					if err := mBatcher.Done(ctx); err != nil {
						return fmt.Errorf("failed to flush %s batch: %w", label, err)
					}
					ingestCounter.WithLabelValues(label).Add(1)
					return nil
				}
				return mBatcher.Queue(ctx, query, args...)
			}
		}

		q := queue("packages", insertPackage)
		for i := range delta.NewPackages {
			p := &delta.NewPackages[i]
			if err := q(p.ID, p.PackageManagerID, p.ImportID, p.DerivedID, p.Name, p.Readme); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("package_updates", updatePackage)
		for i := range delta.UpdatedPackages {
			u := &delta.UpdatedPackages[i]
			if err := q(u.ID, u.Readme); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("urls", insertURL)
		for i := range delta.NewURLs {
			u := &delta.NewURLs[i]
			if err := q(u.ID, u.URL, u.URLTypeID); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("package_urls", insertPackageURL)
		for i := range delta.NewPackageURLs {
			l := &delta.NewPackageURLs[i]
			if err := q(l.ID, l.PackageID, l.URL, l.URLTypeID); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("users", insertUser)
		for i := range delta.NewUsers {
			u := &delta.NewUsers[i]
			if err := q(u.ID, u.Username, u.SourceID, u.ImportID); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("user_packages", insertUserPackage)
		for i := range delta.NewUserPackages {
			l := &delta.NewUserPackages[i]
			if err := q(l.ID, l.Username, l.SourceID, l.PackageID); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("dependency_removals", removeDependency)
		for _, k := range delta.RemovedDependencies {
			if err := q(k.PackageID, k.DependencyID); err != nil {
				return err
			}
		}
		if err := q(); err != nil {
			return err
		}

		q = queue("dependencies", insertDependency)
		for i := range delta.NewDependencies {
			d := &delta.NewDependencies[i]
			if err := q(d.ID, d.PackageID, d.DependencyID, d.DependencyTypeID, d.SemverRange); err != nil {
				return err
			}
		}
		return q()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code[:2] == "23" {
			// Integrity violations mean the diff staged something the schema
			// forbids. That is a bug, not bad upstream data.
			return &chai.Error{
				Op:      "datastore/postgres/Store.Ingest",
				Kind:    chai.ErrConflict,
				Message: "constraint violated during ingest",
				Inner:   err,
			}
		}
		return fmt.Errorf("ingest transaction failed: %w", err)
	}
	ingestDuration.WithLabelValues("tx").Observe(time.Since(start).Seconds())

	zlog.Info(ctx).
		Int("new_packages", len(delta.NewPackages)).
		Int("updated_packages", len(delta.UpdatedPackages)).
		Int("new_urls", len(delta.NewURLs)).
		Int("new_package_urls", len(delta.NewPackageURLs)).
		Int("new_users", len(delta.NewUsers)).
		Int("new_user_packages", len(delta.NewUserPackages)).
		Int("new_dependencies", len(delta.NewDependencies)).
		Int("removed_dependencies", len(delta.RemovedDependencies)).
		Msg("delta ingested")
	return nil
}
