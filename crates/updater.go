// Package crates ingests the crates.io database dump.
//
// The dump is a full tarball of CSVs republished daily; because it is the
// whole universe of crates, the adapter is authoritative and packages
// missing from a snapshot are deleted.
package crates

import (
	"context"
	"net/http"

	"github.com/teaxyz/chai/internal/fetch"
	"github.com/teaxyz/chai/libchai/driver"
)

// DefaultURL is the crates.io database dump location.
const DefaultURL = `https://static.crates.io/db-dump.tar.gz`

// Updater fetches and parses the crates.io db dump.
type Updater struct {
	fetcher *fetch.Fetcher
	url     string
	// localDir, when set, short-circuits Fetch to a fixed directory.
	// Used by tests and offline runs.
	localDir string
	// reuseLatest makes Fetch reuse the previous snapshot on disk.
	reuseLatest bool
}

var (
	_ driver.Updater      = (*Updater)(nil)
	_ driver.Configurable = (*Updater)(nil)
)

// Option configures the provided Updater.
type Option func(*Updater)

// WithURL overrides the default dump URL.
func WithURL(url string) Option {
	return func(u *Updater) { u.url = url }
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
		fetcher: f,
		url:     DefaultURL,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Name implements driver.Updater.
func (*Updater) Name() string { return "crates" }

// Authoritative implements driver.Updater. The dump is the full universe,
// so deletions are enabled.
func (*Updater) Authoritative() bool { return true }

// Config is the configuration accepted by the updater.
type Config struct {
	URL string `json:"url" yaml:"url"`
}

// Configure implements driver.Configurable.
func (u *Updater) Configure(_ context.Context, f driver.ConfigUnmarshaler, _ *http.Client) error {
	var cfg Config
	if err := f(&cfg); err != nil {
		return err
	}
	if cfg.URL != "" {
		u.url = cfg.URL
	}
	return nil
}

// Fetch implements driver.Updater.
func (u *Updater) Fetch(ctx context.Context, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	switch {
	case u.localDir != "":
		return u.localDir, "", nil
	case u.reuseLatest:
		dir, err := u.fetcher.Latest(u.Name())
		return dir, prev, err
	}
	return u.fetcher.Tarball(ctx, u.Name(), u.url, prev)
}
