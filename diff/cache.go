package diff

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
)

// Cache is the in-memory projection of one package manager's current state,
// used as the baseline for a diff.
//
// A Cache is built once per pipeline run and is read-only afterwards; all
// mutations live in the produced [chai.Delta].
type Cache struct {
	// PackageManager is the ecosystem this cache was loaded for.
	PackageManager chai.PackageManager
	// Packages is keyed by import id.
	Packages map[string]chai.Package
	// URLs is keyed by natural key. Only canonical URLs appear here; rows
	// predating canonicalization are invisible to the diff.
	URLs map[chai.URLKey]chai.URL
	// PackageURLs maps a package id to the set of url ids it links to.
	PackageURLs map[uuid.UUID]map[uuid.UUID]struct{}
	// Dependencies maps a package id to its edges, keyed by the dependency
	// package id.
	Dependencies map[uuid.UUID]map[uuid.UUID]chai.Dependency

	byID map[uuid.UUID]string
}

// NewCache assembles a Cache from the store's materialized views.
//
// Dependency edges whose endpoints are not in the package set are dropped;
// the store's foreign keys make that impossible for a consistent read, so a
// drop indicates the two views were loaded against different states.
func NewCache(ctx context.Context, pm chai.PackageManager, g *datastore.Graph, u *datastore.URLSet) *Cache {
	ctx = zlog.ContextWithValues(ctx, "component", "diff/NewCache")
	c := &Cache{
		PackageManager: pm,
		Packages:       g.Packages,
		URLs:           u.URLs,
		PackageURLs:    u.Links,
		Dependencies:   make(map[uuid.UUID]map[uuid.UUID]chai.Dependency, len(g.Dependencies)),
		byID:           make(map[uuid.UUID]string, len(g.Packages)),
	}
	for importID, p := range g.Packages {
		c.byID[p.ID] = importID
	}
	var dropped int
	for pkg, edges := range g.Dependencies {
		if _, ok := c.byID[pkg]; !ok {
			dropped += len(edges)
			continue
		}
		m := make(map[uuid.UUID]chai.Dependency, len(edges))
		for _, e := range edges {
			if _, ok := c.byID[e.DependencyID]; !ok {
				dropped++
				continue
			}
			m[e.DependencyID] = e
		}
		c.Dependencies[pkg] = m
	}
	if dropped != 0 {
		zlog.Warn(ctx).
			Int("count", dropped).
			Msg("dropped dependency edges with unknown endpoints")
	}
	return c
}

// ImportID reports the import id of the package with the given row id.
func (c *Cache) ImportID(id uuid.UUID) (string, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Missing reports, sorted, the import ids present in the cache but absent
// from the snapshot. For authoritative adapters these are the packages the
// upstream has deleted.
func (c *Cache) Missing(snapshot []chai.NormalizedPackage) []string {
	seen := make(map[string]struct{}, len(snapshot))
	for i := range snapshot {
		seen[snapshot[i].ImportID] = struct{}{}
	}
	var missing []string
	for importID := range c.Packages {
		if _, ok := seen[importID]; !ok {
			missing = append(missing, importID)
		}
	}
	sort.Strings(missing)
	return missing
}
