package chai

import (
	"time"

	"github.com/google/uuid"
)

// DependencyKind names the relationship between a package and one of its
// dependencies.
type DependencyKind string

// Recognized dependency kinds. These correspond to rows in the
// depends_on_types table.
const (
	RuntimeKind       DependencyKind = "runtime"
	BuildKind         DependencyKind = "build"
	TestKind          DependencyKind = "test"
	RecommendedKind   DependencyKind = "recommended"
	OptionalKind      DependencyKind = "optional"
	UsesFromMacosKind DependencyKind = "uses_from_macos"
)

// DependencyKinds lists every recognized kind, strongest first. The store
// keeps at most one edge per (package, dependency) pair; when a source
// reports the same pair under several kinds, the strongest wins.
var DependencyKinds = []DependencyKind{
	RuntimeKind,
	BuildKind,
	TestKind,
	RecommendedKind,
	OptionalKind,
	UsesFromMacosKind,
}

// Priority reports the strength of the kind. Lower is stronger; unrecognized
// kinds sort last.
func (k DependencyKind) Priority() int {
	for i, n := range DependencyKinds {
		if n == k {
			return i
		}
	}
	return len(DependencyKinds)
}

// Dependency is one edge in the dependency graph.
//
// Exactly one row exists per (PackageID, DependencyID) pair. Unlike URLs,
// dependency edges are not append-only: edges absent from the latest
// snapshot are deleted.
type Dependency struct {
	ID               uuid.UUID `json:"id"`
	PackageID        uuid.UUID `json:"package_id"`
	DependencyID     uuid.UUID `json:"dependency_id"`
	DependencyTypeID uuid.UUID `json:"dependency_type_id"`
	// SemverRange is the version constraint as reported by the source,
	// uninterpreted.
	SemverRange string    `json:"semver_range,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
