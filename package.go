package chai

import (
	"time"

	"github.com/google/uuid"
)

// PackageManager is one upstream ecosystem tracked by CHAI, e.g. "crates"
// or "homebrew".
type PackageManager struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Package is one package as recorded in the store.
//
// A Package belongs to exactly one PackageManager and is identified within
// it by ImportID. Readme is the only field that may change after the row is
// first written.
type Package struct {
	ID               uuid.UUID `json:"id"`
	PackageManagerID uuid.UUID `json:"package_manager_id"`
	// ImportID is the identifier the upstream source uses for this package.
	// For crates this is the numeric crate id, for homebrew and debian the
	// package name, for pkgx the project path.
	ImportID string `json:"import_id"`
	// DerivedID is "<package manager>/<import id>" and is unique across the
	// whole store.
	DerivedID string    `json:"derived_id"`
	Name      string    `json:"name"`
	Readme    string    `json:"readme,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PackageUpdate records a change to the mutable portion of an existing
// Package row.
type PackageUpdate struct {
	ID     uuid.UUID `json:"id"`
	Readme string    `json:"readme"`
}

// LoadRecord marks one completed ingest for a package manager.
type LoadRecord struct {
	ID               uuid.UUID `json:"id"`
	PackageManagerID uuid.UUID `json:"package_manager_id"`
	CreatedAt        time.Time `json:"created_at"`
}
