package chai

import (
	"time"

	"github.com/google/uuid"
)

// URLKind names a class of URL attached to packages.
type URLKind string

// Recognized URL kinds. These correspond to rows in the url_types table.
const (
	HomepageKind      URLKind = "homepage"
	RepositoryKind    URLKind = "repository"
	DocumentationKind URLKind = "documentation"
	SourceKind        URLKind = "source"
)

// URLKinds lists every recognized kind, in the order the url_types table is
// seeded.
var URLKinds = []URLKind{HomepageKind, RepositoryKind, DocumentationKind, SourceKind}

// URLKey is the natural key of a URL row.
type URLKey struct {
	URL    string
	TypeID uuid.UUID
}

// URL is one canonicalized URL row.
//
// URL rows are shared across packages and package managers; the (URL,
// URLTypeID) pair is unique. Only canonical forms (see pkg/urlnorm) are ever
// written.
type URL struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	URLTypeID uuid.UUID `json:"url_type_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PackageURL links a Package to a URL. Links are append-only: an upstream
// dropping a URL does not remove the link.
type PackageURL struct {
	ID        uuid.UUID `json:"id"`
	PackageID uuid.UUID `json:"package_id"`
	URLID     uuid.UUID `json:"url_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
