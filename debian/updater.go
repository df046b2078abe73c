// Package debian ingests the stable/main Packages and Sources indexes.
//
// Packages CHAI tracks are Debian source packages. The Sources index is the
// primary record; the binary Packages index is merged in for the runtime
// dependency graph, which Debian declares at the binary level.
//
// One architecture's binary index covers only part of the archive and
// architecture-specific sources never appear in it, so the adapter is not
// authoritative.
package debian

import (
	"context"
	"net/http"

	"github.com/teaxyz/chai/internal/fetch"
	"github.com/teaxyz/chai/libchai/driver"
)

// Default index URLs.
const (
	DefaultPackagesURL = `https://ftp.debian.org/debian/dists/stable/main/binary-amd64/Packages.gz`
	DefaultSourcesURL  = `https://ftp.debian.org/debian/dists/stable/main/source/Sources.gz`
)

// Names the decompressed indexes are stored under.
const (
	packagesFile = `Packages`
	sourcesFile  = `Sources`
)

// Updater fetches and parses the Debian indexes.
type Updater struct {
	fetcher     *fetch.Fetcher
	packagesURL string
	sourcesURL  string
	localDir    string
	reuseLatest bool
}

var (
	_ driver.Updater      = (*Updater)(nil)
	_ driver.Configurable = (*Updater)(nil)
)

// Option configures the provided Updater.
type Option func(*Updater)

// WithPackagesURL overrides the binary index URL.
func WithPackagesURL(url string) Option {
	return func(u *Updater) { u.packagesURL = url }
}

// WithSourcesURL overrides the source index URL.
func WithSourcesURL(url string) Option {
	return func(u *Updater) { u.sourcesURL = url }
}

// WithLocalDir makes the updater parse a fixed directory instead of
// fetching.
func WithLocalDir(dir string) Option {
	return func(u *Updater) { u.localDir = dir }
}

// WithReuseLatest makes the updater reuse the last fetched snapshot.
func WithReuseLatest(b bool) Option {
	return func(u *Updater) { u.reuseLatest = b }
}

// NewUpdater returns an updater downloading through f.
func NewUpdater(f *fetch.Fetcher, opts ...Option) *Updater {
	u := &Updater{
		fetcher:     f,
		packagesURL: DefaultPackagesURL,
		sourcesURL:  DefaultSourcesURL,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Name implements driver.Updater.
func (*Updater) Name() string { return "debian" }

// Authoritative implements driver.Updater.
func (*Updater) Authoritative() bool { return false }

// Config is the configuration accepted by the updater.
type Config struct {
	PackagesURL string `json:"packages_url" yaml:"packages_url"`
	SourcesURL  string `json:"sources_url" yaml:"sources_url"`
}

// Configure implements driver.Configurable.
func (u *Updater) Configure(_ context.Context, f driver.ConfigUnmarshaler, _ *http.Client) error {
	var cfg Config
	if err := f(&cfg); err != nil {
		return err
	}
	if cfg.PackagesURL != "" {
		u.packagesURL = cfg.PackagesURL
	}
	if cfg.SourcesURL != "" {
		u.sourcesURL = cfg.SourcesURL
	}
	return nil
}

// Fetch implements driver.Updater. Both indexes land in one snapshot; the
// fingerprint covers both entity tags.
func (u *Updater) Fetch(ctx context.Context, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	switch {
	case u.localDir != "":
		return u.localDir, "", nil
	case u.reuseLatest:
		dir, err := u.fetcher.Latest(u.Name())
		return dir, prev, err
	}
	return u.fetcher.GZipSet(ctx, u.Name(), []fetch.Remote{
		{Name: sourcesFile, URL: u.sourcesURL},
		{Name: packagesFile, URL: u.packagesURL},
	}, prev)
}
