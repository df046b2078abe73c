// Package pkgx ingests the pkgx pantry.
//
// The pantry is a git repository where every project directory carries a
// package.yml. The directory path is the import id; the pantry is the whole
// pkgx universe, so the adapter is authoritative and absence means deletion.
package pkgx

import (
	"context"
	"net/http"

	"github.com/teaxyz/chai/internal/fetch"
	"github.com/teaxyz/chai/libchai/driver"
)

// DefaultRepo is the pantry repository.
const DefaultRepo = `https://github.com/pkgxdev/pantry`

// Updater clones and parses the pantry.
type Updater struct {
	fetcher     *fetch.Fetcher
	repo        string
	localDir    string
	reuseLatest bool
	homepages   HomepageResolver
}

var (
	_ driver.Updater      = (*Updater)(nil)
	_ driver.Configurable = (*Updater)(nil)
)

// Option configures the provided Updater.
type Option func(*Updater)

// WithRepo overrides the pantry repository URL.
func WithRepo(repo string) Option {
	return func(u *Updater) { u.repo = repo }
}

// WithLocalDir makes the updater parse a fixed directory instead of
// cloning.
func WithLocalDir(dir string) Option {
	return func(u *Updater) { u.localDir = dir }
}

// WithReuseLatest makes the updater reuse the last fetched snapshot.
func WithReuseLatest(b bool) Option {
	return func(u *Updater) { u.reuseLatest = b }
}

// WithHomepages sets the homepage resolver. Without one, only the static
// naming rules apply.
func WithHomepages(r HomepageResolver) Option {
	return func(u *Updater) { u.homepages = r }
}

// NewUpdater returns an updater cloning through f.
func NewUpdater(f *fetch.Fetcher, opts ...Option) *Updater {
	u := &Updater{
		fetcher: f,
		repo:    DefaultRepo,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Name implements driver.Updater.
func (*Updater) Name() string { return "pkgx" }

// Authoritative implements driver.Updater.
func (*Updater) Authoritative() bool { return true }

// Config is the configuration accepted by the updater.
type Config struct {
	Repo string `json:"repo" yaml:"repo"`
}

// Configure implements driver.Configurable.
func (u *Updater) Configure(_ context.Context, f driver.ConfigUnmarshaler, _ *http.Client) error {
	var cfg Config
	if err := f(&cfg); err != nil {
		return err
	}
	if cfg.Repo != "" {
		u.repo = cfg.Repo
	}
	return nil
}

// Fetch implements driver.Updater. The fingerprint is the pantry HEAD
// commit.
func (u *Updater) Fetch(ctx context.Context, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	switch {
	case u.localDir != "":
		return u.localDir, "", nil
	case u.reuseLatest:
		dir, err := u.fetcher.Latest(u.Name())
		return dir, prev, err
	}
	return u.fetcher.Git(ctx, u.Name(), u.repo, prev)
}
