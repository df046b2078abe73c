package chai

import "github.com/google/uuid"

// Delta is the set of writes needed to bring the store in line with one
// fetched snapshot. The diff engine produces a Delta; the store applies it
// in a single transaction.
//
// New rows carry pre-allocated IDs so that later members of the Delta can
// reference earlier ones. URL and user rows are the exception: those tables
// are shared across pipelines, so links to them carry the natural key and
// the store resolves the row id at insert time.
type Delta struct {
	NewPackages     []Package
	UpdatedPackages []PackageUpdate
	NewURLs         []URL
	NewPackageURLs  []PackageURLInsert
	NewDependencies []Dependency
	// RemovedDependencies are edges present in the store but absent from
	// the snapshot, identified by their unique pair.
	RemovedDependencies []DependencyKey
	NewUsers            []User
	NewUserPackages     []UserPackageInsert
}

// PackageURLInsert stages one package→URL link. The URL row is referenced by
// its natural key so a lost insert race on the shared urls table cannot
// leave the link dangling.
type PackageURLInsert struct {
	ID        uuid.UUID
	PackageID uuid.UUID
	URL       string
	URLTypeID uuid.UUID
}

// UserPackageInsert stages one user→package link, referencing the user row
// by its natural key.
type UserPackageInsert struct {
	ID        uuid.UUID
	PackageID uuid.UUID
	Username  string
	SourceID  uuid.UUID
}

// DependencyKey identifies a dependency edge by its unique pair.
type DependencyKey struct {
	PackageID    uuid.UUID
	DependencyID uuid.UUID
}

// Empty reports whether applying the Delta would write nothing.
func (d *Delta) Empty() bool {
	return len(d.NewPackages) == 0 &&
		len(d.UpdatedPackages) == 0 &&
		len(d.NewURLs) == 0 &&
		len(d.NewPackageURLs) == 0 &&
		len(d.NewDependencies) == 0 &&
		len(d.RemovedDependencies) == 0 &&
		len(d.NewUsers) == 0 &&
		len(d.NewUserPackages) == 0
}
