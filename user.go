package chai

import (
	"time"

	"github.com/google/uuid"
)

// Source is where a user identity comes from, e.g. "github" or "crates".
type Source struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// User is one upstream identity associated with packages.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	SourceID uuid.UUID `json:"source_id"`
	// ImportID is the source-local identifier, when the source has one.
	ImportID  string    `json:"import_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPackage links a User to a Package they maintain or publish.
type UserPackage struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	PackageID uuid.UUID `json:"package_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
