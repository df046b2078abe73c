package chai

import (
	"time"

	"github.com/google/uuid"
)

// Canon is the canonical identity of a project, keyed by its canonical
// homepage URL.
//
// Packages from different package managers that share a homepage share a
// Canon. The URL is unique: one homepage, one canon. Canons are never
// garbage-collected, even when no package references them anymore.
type Canon struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonPackage assigns a Package to a Canon. Each package belongs to at most
// one canon at a time; the assignment moves when the package's newest
// homepage changes.
type CanonPackage struct {
	ID        uuid.UUID `json:"id"`
	CanonID   uuid.UUID `json:"canon_id"`
	PackageID uuid.UUID `json:"package_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeaRank is the rank assigned to a Canon by the ranker. The ranker owns
// this table; nothing else writes it.
type TeaRank struct {
	CanonID      uuid.UUID `json:"canon_id"`
	Rank         float64   `json:"rank"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// CanonDelta is the set of writes produced by one deduplicator run.
type CanonDelta struct {
	NewCanons        []Canon
	NewCanonPackages []CanonPackage
	// Moves reassign existing canon links to a different canon.
	Moves []CanonMove
}

// CanonMove points one package's existing canon link at a different canon.
type CanonMove struct {
	PackageID uuid.UUID
	CanonID   uuid.UUID
}

// Empty reports whether applying the delta would write nothing.
func (d *CanonDelta) Empty() bool {
	return len(d.NewCanons) == 0 &&
		len(d.NewCanonPackages) == 0 &&
		len(d.Moves) == 0
}
