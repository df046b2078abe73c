// Package driver holds the contracts adapters implement to plug into the
// update machinery.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/teaxyz/chai"
)

// Unchanged is returned by Fetch when the upstream source reports the
// content has not changed since the provided fingerprint was taken. The run
// short-circuits with zero writes.
var Unchanged = errors.New("driver: upstream data unchanged")

// Fingerprint is some identifying information about an upstream snapshot,
// e.g. an HTTP entity tag or a git commit hash. It is opaque to everything
// but the updater that produced it.
type Fingerprint string

// Updater is one package-manager adapter.
//
// Fetch downloads the current upstream state into a directory and reports
// it; Parse turns that directory into normalized records. Parse must not
// touch the store.
type Updater interface {
	// Name is the ecosystem name, e.g. "crates". It is also the row name in
	// the package_managers table.
	Name() string
	// Authoritative reports whether the upstream source is a full dump.
	// Only authoritative adapters may delete packages absent from a
	// snapshot; for the rest, absence is not evidence of deletion.
	Authoritative() bool
	// Fetch materializes the current upstream state on disk and returns the
	// directory holding it. When the fingerprint matches upstream, Fetch
	// returns [Unchanged].
	Fetch(ctx context.Context, prev Fingerprint) (dir string, fp Fingerprint, err error)
	// Parse reads the directory produced by Fetch and emits the snapshot.
	Parse(ctx context.Context, dir string) ([]chai.NormalizedPackage, error)
}

// ConfigUnmarshaler can be thought of as an Unmarshal function with the byte
// slice provided, or a Decode function.
type ConfigUnmarshaler func(interface{}) error

// Configurable is an interface updaters can implement to opt-in to having
// their configuration provided dynamically.
type Configurable interface {
	Configure(context.Context, ConfigUnmarshaler, *http.Client) error
}

// DecodeJSON returns a ConfigUnmarshaler reading JSON from r.
func DecodeJSON(r io.Reader) ConfigUnmarshaler {
	return json.NewDecoder(r).Decode
}
