package datastore

import (
	"context"

	"github.com/google/uuid"

	"github.com/teaxyz/chai"
)

// PackageHomepage is one package paired with one of its homepage URLs.
type PackageHomepage struct {
	PackageID   uuid.UUID
	PackageName string
	URL         chai.URL
}

// Deduper is an interface exporting the necessary methods for the
// canonical-project merge job.
type Deduper interface {
	// Canons returns every canon, keyed by canonical URL.
	Canons(ctx context.Context) (map[string]chai.Canon, error)
	// CanonPackages returns the current package→canon assignment.
	CanonPackages(ctx context.Context) (map[uuid.UUID]uuid.UUID, error)
	// PackageHomepages returns, for every package with at least one
	// homepage URL, its homepages ordered newest first per package.
	PackageHomepages(ctx context.Context) ([]PackageHomepage, error)
	// ApplyDedupe applies the delta in a single transaction.
	ApplyDedupe(ctx context.Context, delta *chai.CanonDelta) error
}
