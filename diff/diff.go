// Package diff computes the minimal set of writes needed to bring the store
// in line with a parsed snapshot.
//
// The comparison is purely set-based: packages by import id, URLs by natural
// key, dependencies by edge. Cycles in the dependency graph are inert
// because no traversal happens. Running a diff against a cache that already
// reflects the snapshot yields an empty delta.
package diff

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/pkg/urlnorm"
)

// Config carries the lookups the diff engine needs: the ecosystem being
// diffed and the type-name to row-id mappings loaded at pipeline start.
type Config struct {
	PackageManager  chai.PackageManager
	URLTypes        map[chai.URLKind]uuid.UUID
	DependencyTypes map[chai.DependencyKind]uuid.UUID
	// Sources maps a user source name ("github", "crates", ...) to its row
	// id.
	Sources map[string]uuid.UUID
}

type linkKey struct {
	pkg uuid.UUID
	url chai.URLKey
}

type userKey struct {
	username string
	source   uuid.UUID
}

// Diff compares the snapshot against the cache and produces the delta.
//
// Records with an empty import id and duplicates of an already seen import
// id are skipped. URLs that fail canonicalization are dropped. Dependencies
// whose endpoint resolves neither through the cache nor through a package
// staged in this same run are dropped with a warning. None of these abort
// the diff.
func Diff(ctx context.Context, cfg *Config, cache *Cache, snapshot []chai.NormalizedPackage) (*chai.Delta, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "diff/Diff",
		"package_manager", cfg.PackageManager.Name)

	pkgs := make([]*chai.NormalizedPackage, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for i := range snapshot {
		p := &snapshot[i]
		switch {
		case p.ImportID == "":
			zlog.Warn(ctx).Str("name", p.Name).Msg("skipping record with empty import id")
		case hasKey(seen, p.ImportID):
			zlog.Warn(ctx).Str("import_id", p.ImportID).Msg("skipping duplicate import id")
		default:
			seen[p.ImportID] = struct{}{}
			pkgs = append(pkgs, p)
		}
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ImportID < pkgs[j].ImportID })

	delta := &chai.Delta{}

	// Stage every unknown package first so dependency endpoints can resolve
	// against packages introduced by this same snapshot.
	staged := make(map[string]uuid.UUID)
	names := func(id uuid.UUID) string {
		if n, ok := cache.ImportID(id); ok {
			return n
		}
		return ""
	}
	for _, p := range pkgs {
		if _, ok := cache.Packages[p.ImportID]; ok {
			continue
		}
		id := uuid.New()
		staged[p.ImportID] = id
		delta.NewPackages = append(delta.NewPackages, chai.Package{
			ID:               id,
			PackageManagerID: cfg.PackageManager.ID,
			ImportID:         p.ImportID,
			DerivedID:        cfg.PackageManager.Name + "/" + p.ImportID,
			Name:             p.Name,
			Readme:           p.Readme,
		})
	}
	resolve := func(importID string) (uuid.UUID, bool) {
		if p, ok := cache.Packages[importID]; ok {
			return p.ID, true
		}
		id, ok := staged[importID]
		return id, ok
	}

	stagedURLs := make(map[chai.URLKey]struct{})
	stagedLinks := make(map[linkKey]struct{})
	stagedUsers := make(map[userKey]struct{})
	var malformed, unresolved int

	for _, p := range pkgs {
		pkgID, _ := resolve(p.ImportID)
		_, isNew := staged[p.ImportID]

		if !isNew {
			row := cache.Packages[p.ImportID]
			if p.Readme != "" && p.Readme != row.Readme {
				delta.UpdatedPackages = append(delta.UpdatedPackages, chai.PackageUpdate{
					ID:     row.ID,
					Readme: p.Readme,
				})
			}
		}

		// URL diff. New URLs are staged by natural key; links move toward
		// the snapshot but are never removed, stale links stay as history.
		for _, kind := range chai.URLKinds {
			typeID, ok := cfg.URLTypes[kind]
			if !ok {
				continue
			}
			for _, raw := range p.URLs[kind] {
				canon, err := urlnorm.Canonical(raw)
				if err != nil {
					if errors.Is(err, urlnorm.ErrMalformed) {
						malformed++
						zlog.Debug(ctx).Str("url", raw).Msg("dropping malformed url")
						continue
					}
					return nil, err
				}
				key := chai.URLKey{URL: canon, TypeID: typeID}
				row, exists := cache.URLs[key]
				if !exists && !hasKey(stagedURLs, key) {
					stagedURLs[key] = struct{}{}
					delta.NewURLs = append(delta.NewURLs, chai.URL{
						ID:        uuid.New(),
						URL:       canon,
						URLTypeID: typeID,
					})
				}
				linked := false
				if exists {
					_, linked = cache.PackageURLs[pkgID][row.ID]
				}
				lk := linkKey{pkg: pkgID, url: key}
				if !linked && !hasKey(stagedLinks, lk) {
					stagedLinks[lk] = struct{}{}
					delta.NewPackageURLs = append(delta.NewPackageURLs, chai.PackageURLInsert{
						ID:        uuid.New(),
						PackageID: pkgID,
						URL:       canon,
						URLTypeID: typeID,
					})
				}
			}
		}

		// Users ride along with new packages only. Existing packages keep
		// the identities recorded when they first appeared.
		if isNew {
			for _, u := range p.Users {
				srcID, ok := cfg.Sources[u.Source]
				if !ok || u.Username == "" {
					continue
				}
				uk := userKey{username: u.Username, source: srcID}
				if !hasKey(stagedUsers, uk) {
					stagedUsers[uk] = struct{}{}
					delta.NewUsers = append(delta.NewUsers, chai.User{
						ID:       uuid.New(),
						Username: u.Username,
						SourceID: srcID,
						ImportID: u.ImportID,
					})
				}
				delta.NewUserPackages = append(delta.NewUserPackages, chai.UserPackageInsert{
					ID:        uuid.New(),
					PackageID: pkgID,
					Username:  u.Username,
					SourceID:  srcID,
				})
			}
		}

		// Dependency diff. Collapse duplicate declarations to the single
		// strongest kind, then compare edge sets.
		type edge struct {
			kind   chai.DependencyKind
			typeID uuid.UUID
			semver string
		}
		desired := make(map[uuid.UUID]edge)
		for _, d := range p.Dependencies {
			typeID, ok := cfg.DependencyTypes[d.Kind]
			if !ok {
				zlog.Warn(ctx).
					Str("import_id", p.ImportID).
					Str("kind", string(d.Kind)).
					Msg("dropping dependency with unknown kind")
				continue
			}
			depID, ok := resolve(d.ImportID)
			if !ok {
				unresolved++
				zlog.Warn(ctx).
					Str("import_id", p.ImportID).
					Str("dependency", d.ImportID).
					Msg("dropping dependency with unresolvable endpoint")
				continue
			}
			e := edge{kind: d.Kind, typeID: typeID, semver: d.SemverRange}
			if cur, ok := desired[depID]; !ok || e.kind.Priority() < cur.kind.Priority() {
				desired[depID] = e
			}
		}
		current := cache.Dependencies[pkgID]
		for depID, e := range desired {
			cur, ok := current[depID]
			switch {
			case !ok:
			case cur.DependencyTypeID == e.typeID && cur.SemverRange == e.semver:
				continue
			default:
				// Changed edge: delete then insert.
				delta.RemovedDependencies = append(delta.RemovedDependencies, chai.DependencyKey{
					PackageID:    pkgID,
					DependencyID: depID,
				})
			}
			delta.NewDependencies = append(delta.NewDependencies, chai.Dependency{
				ID:               uuid.New(),
				PackageID:        pkgID,
				DependencyID:     depID,
				DependencyTypeID: e.typeID,
				SemverRange:      e.semver,
			})
		}
		for depID := range current {
			if _, ok := desired[depID]; !ok {
				delta.RemovedDependencies = append(delta.RemovedDependencies, chai.DependencyKey{
					PackageID:    pkgID,
					DependencyID: depID,
				})
			}
		}
	}

	// Emit every set in natural-key order so identical inputs produce
	// identical batches.
	stagedName := make(map[uuid.UUID]string, len(staged))
	for importID, id := range staged {
		stagedName[id] = importID
	}
	name := func(id uuid.UUID) string {
		if n := names(id); n != "" {
			return n
		}
		if n, ok := stagedName[id]; ok {
			return n
		}
		return id.String()
	}
	sort.Slice(delta.NewPackages, func(i, j int) bool {
		return delta.NewPackages[i].ImportID < delta.NewPackages[j].ImportID
	})
	sort.Slice(delta.UpdatedPackages, func(i, j int) bool {
		return name(delta.UpdatedPackages[i].ID) < name(delta.UpdatedPackages[j].ID)
	})
	sort.Slice(delta.NewURLs, func(i, j int) bool {
		a, b := &delta.NewURLs[i], &delta.NewURLs[j]
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		return a.URLTypeID.String() < b.URLTypeID.String()
	})
	sort.Slice(delta.NewPackageURLs, func(i, j int) bool {
		a, b := &delta.NewPackageURLs[i], &delta.NewPackageURLs[j]
		if an, bn := name(a.PackageID), name(b.PackageID); an != bn {
			return an < bn
		}
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		return a.URLTypeID.String() < b.URLTypeID.String()
	})
	sort.Slice(delta.NewUsers, func(i, j int) bool {
		a, b := &delta.NewUsers[i], &delta.NewUsers[j]
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.SourceID.String() < b.SourceID.String()
	})
	sort.Slice(delta.NewUserPackages, func(i, j int) bool {
		a, b := &delta.NewUserPackages[i], &delta.NewUserPackages[j]
		if an, bn := name(a.PackageID), name(b.PackageID); an != bn {
			return an < bn
		}
		return a.Username < b.Username
	})
	sort.Slice(delta.NewDependencies, func(i, j int) bool {
		a, b := &delta.NewDependencies[i], &delta.NewDependencies[j]
		if an, bn := name(a.PackageID), name(b.PackageID); an != bn {
			return an < bn
		}
		return name(a.DependencyID) < name(b.DependencyID)
	})
	sort.Slice(delta.RemovedDependencies, func(i, j int) bool {
		a, b := &delta.RemovedDependencies[i], &delta.RemovedDependencies[j]
		if an, bn := name(a.PackageID), name(b.PackageID); an != bn {
			return an < bn
		}
		return name(a.DependencyID) < name(b.DependencyID)
	})

	zlog.Info(ctx).
		Int("new_packages", len(delta.NewPackages)).
		Int("updated_packages", len(delta.UpdatedPackages)).
		Int("new_urls", len(delta.NewURLs)).
		Int("new_package_urls", len(delta.NewPackageURLs)).
		Int("new_dependencies", len(delta.NewDependencies)).
		Int("removed_dependencies", len(delta.RemovedDependencies)).
		Int("malformed_urls", malformed).
		Int("unresolved_dependencies", unresolved).
		Msg("diff computed")
	return delta, nil
}

func hasKey[K comparable](m map[K]struct{}, k K) bool {
	_, ok := m[k]
	return ok
}
