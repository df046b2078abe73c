// Package homebrew ingests the Homebrew formula API document.
//
// The API serves current formulae only and taps are invisible to it, so the
// adapter is not authoritative: a formula missing from the document is not
// deleted.
package homebrew

import (
	"context"
	"net/http"

	"github.com/teaxyz/chai/internal/fetch"
	"github.com/teaxyz/chai/libchai/driver"
)

// DefaultURL is the formula API document.
const DefaultURL = `https://formulae.brew.sh/api/formula.json`

// formulaFile is the name the fetched document is stored under.
const formulaFile = `formula.json`

// Updater fetches and parses the Homebrew formula document.
type Updater struct {
	fetcher     *fetch.Fetcher
	url         string
	localDir    string
	reuseLatest bool
}

var (
	_ driver.Updater      = (*Updater)(nil)
	_ driver.Configurable = (*Updater)(nil)
)

// Option configures the provided Updater.
type Option func(*Updater)

// WithURL overrides the default document URL.
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
func (*Updater) Name() string { return "homebrew" }

// Authoritative implements driver.Updater.
func (*Updater) Authoritative() bool { return false }

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
	return u.fetcher.File(ctx, u.Name(), u.url, formulaFile, prev)
}
