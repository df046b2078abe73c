package chai

// NormalizedPackage is one package as reported by an upstream source,
// reduced to the fields CHAI tracks. Adapters produce these; the diff engine
// compares them against the store.
//
// URLs hold raw strings as found upstream. Canonicalization happens in the
// diff engine, not in adapters.
type NormalizedPackage struct {
	// ImportID is the source-local identifier. It must be non-empty and
	// unique within one snapshot.
	ImportID string
	Name     string
	Readme   string
	// URLs maps a kind to the raw URLs the source reported for it, in
	// source order.
	URLs map[URLKind][]string
	// Dependencies reference other packages in the same ecosystem by their
	// ImportID. Duplicate (ImportID, Kind) entries are tolerated.
	Dependencies []NormalizedDependency
	// Users are the identities the source associates with this package.
	Users []NormalizedUser
}

// NormalizedDependency is one dependency declaration as reported upstream.
type NormalizedDependency struct {
	ImportID    string
	Kind        DependencyKind
	SemverRange string
}

// NormalizedUser is one identity as reported upstream.
type NormalizedUser struct {
	Username string
	// ImportID is the source-local identifier, when the source has one.
	ImportID string
	// Source names where the identity lives, e.g. "github".
	Source string
}
