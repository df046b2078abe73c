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
)

var (
	typesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "types_total",
			Help:      "Total number of database queries issued in the type lookup methods.",
		},
		[]string{"query"},
	)
	typesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chai",
			Subsystem: "datastore",
			Name:      "types_duration_seconds",
			Help:      "The duration of all queries issued in the type lookup methods.",
		},
		[]string{"query"},
	)
)

// URLTypes reports the id of every recognized URL kind, seeding any that are
// missing.
func (s *Store) URLTypes(ctx context.Context) (map[chai.URLKind]uuid.UUID, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.URLTypes")
	names := make([]string, len(chai.URLKinds))
	for i, k := range chai.URLKinds {
		names[i] = string(k)
	}
	got, err := s.seedNames(ctx, "url_types", names)
	if err != nil {
		return nil, fmt.Errorf("failed to seed url types: %w", err)
	}
	m := make(map[chai.URLKind]uuid.UUID, len(got))
	for n, id := range got {
		m[chai.URLKind(n)] = id
	}
	return m, nil
}

// DependencyTypes reports the id of every recognized dependency kind,
// seeding any that are missing.
func (s *Store) DependencyTypes(ctx context.Context) (map[chai.DependencyKind]uuid.UUID, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.DependencyTypes")
	names := make([]string, len(chai.DependencyKinds))
	for i, k := range chai.DependencyKinds {
		names[i] = string(k)
	}
	got, err := s.seedNames(ctx, "depends_on_types", names)
	if err != nil {
		return nil, fmt.Errorf("failed to seed dependency types: %w", err)
	}
	m := make(map[chai.DependencyKind]uuid.UUID, len(got))
	for n, id := range got {
		m[chai.DependencyKind(n)] = id
	}
	return m, nil
}

// Source returns the row for the named user source, creating it on first
// use.
func (s *Store) Source(ctx context.Context, name string) (chai.Source, error) {
	const (
		insert = `INSERT INTO sources (name) VALUES ($1) ON CONFLICT (name) DO NOTHING;`
		get    = `SELECT id, name FROM sources WHERE name = $1;`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.Source")

	var src chai.Source
	start := time.Now()
	if _, err := s.pool.Exec(ctx, insert, name); err != nil {
		return src, fmt.Errorf("failed to create source %q: %w", name, err)
	}
	typesCounter.WithLabelValues("source_insert").Add(1)
	typesDuration.WithLabelValues("source_insert").Observe(time.Since(start).Seconds())

	start = time.Now()
	if err := s.pool.QueryRow(ctx, get, name).Scan(&src.ID, &src.Name); err != nil {
		return src, fmt.Errorf("failed to read source %q: %w", name, err)
	}
	typesCounter.WithLabelValues("source_get").Add(1)
	typesDuration.WithLabelValues("source_get").Observe(time.Since(start).Seconds())
	return src, nil
}

// seedNames inserts any missing names into the table and returns the full
// name→id mapping. The table must have unique "name" and uuid "id" columns.
func (s *Store) seedNames(ctx context.Context, table string, names []string) (map[string]uuid.UUID, error) {
	insert := fmt.Sprintf(`INSERT INTO %s (name) SELECT unnest($1::text[]) ON CONFLICT (name) DO NOTHING;`, table)
	get := fmt.Sprintf(`SELECT name, id FROM %s;`, table)

	start := time.Now()
	if _, err := s.pool.Exec(ctx, insert, names); err != nil {
		return nil, err
	}
	typesCounter.WithLabelValues("insert").Add(1)
	typesDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err := s.pool.Query(ctx, get)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	m := make(map[string]uuid.UUID)
	for rows.Next() {
		var n string
		var id uuid.UUID
		if err := rows.Scan(&n, &id); err != nil {
			return nil, err
		}
		m[n] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	typesCounter.WithLabelValues("get").Add(1)
	typesDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	return m, nil
}
