// Package datastore holds the persistence contracts used by the ingestion
// pipelines and the deduplicator.
package datastore

import (
	"context"

	"github.com/google/uuid"

	"github.com/teaxyz/chai"
)

// Graph is the current dependency graph of one package manager, as
// materialized from the store.
type Graph struct {
	// Packages is keyed by import id.
	Packages map[string]chai.Package
	// Dependencies is keyed by the owning package id.
	Dependencies map[uuid.UUID][]chai.Dependency
}

// URLSet is the current URL projection for one package manager.
//
// URLs holds only canonical rows; rows predating canonicalization are left
// in the store but never offered as diff baselines.
type URLSet struct {
	// URLs is keyed by natural key.
	URLs map[chai.URLKey]chai.URL
	// Links maps a package id to the set of url ids it is linked to.
	Links map[uuid.UUID]map[uuid.UUID]struct{}
}

// Ingester is an interface exporting the necessary methods for running an
// adapter pipeline against the store.
type Ingester interface {
	// PackageManager returns the row for the named ecosystem, creating it
	// on first use.
	PackageManager(ctx context.Context, name string) (chai.PackageManager, error)
	// URLTypes reports the id of every recognized URL kind, seeding any
	// that are missing.
	URLTypes(ctx context.Context) (map[chai.URLKind]uuid.UUID, error)
	// DependencyTypes reports the id of every recognized dependency kind,
	// seeding any that are missing.
	DependencyTypes(ctx context.Context) (map[chai.DependencyKind]uuid.UUID, error)
	// Source returns the row for the named user source, creating it on
	// first use.
	Source(ctx context.Context, name string) (chai.Source, error)
	// CurrentGraph materializes every package of the package manager along
	// with its dependency edges.
	CurrentGraph(ctx context.Context, pm uuid.UUID) (*Graph, error)
	// CurrentURLs materializes every canonical URL referenced by packages
	// of the package manager, and the link set.
	CurrentURLs(ctx context.Context, pm uuid.UUID) (*URLSet, error)
	// Ingest applies the delta in a single transaction. On error, no
	// partial state is visible.
	//
	// Dependency removals are applied before dependency inserts so a
	// type-changed edge lands as delete-then-insert.
	Ingest(ctx context.Context, delta *chai.Delta) error
	// DeletePackages removes the named packages and every edge that
	// references them. The number of packages deleted is returned.
	DeletePackages(ctx context.Context, pm uuid.UUID, importIDs []string) (int64, error)
	// RecordLoad marks one successful pipeline run.
	RecordLoad(ctx context.Context, pm uuid.UUID) error
	// SearchNames reports the homepage URLs of packages in the given
	// package managers whose name matches any of the candidates.
	SearchNames(ctx context.Context, names []string, pms []uuid.UUID) ([]string, error)
}
