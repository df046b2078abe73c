// Package dedupe merges packages that share a homepage into canonical
// projects.
//
// Every package's newest homepage URL elects its canon: packages from
// different ecosystems with the same canonical homepage share one Canon row.
// The job is differential, comparing the current canon state against the
// homepage projection and staging only the rows that changed. Canons are
// never garbage-collected.
package dedupe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
	"github.com/teaxyz/chai/pkg/urlnorm"
)

// Deduper computes and applies canon deltas.
type Deduper struct {
	store datastore.Deduper
	load  bool
	now   func() time.Time
}

// Option configures a Deduper.
type Option func(*Deduper)

// WithLoad toggles writing. When off, Run plans and logs the delta but
// applies nothing.
func WithLoad(b bool) Option {
	return func(d *Deduper) { d.load = b }
}

// WithClock overrides the clock stamped onto new rows.
func WithClock(now func() time.Time) Option {
	return func(d *Deduper) { d.now = now }
}

// New returns a Deduper running against store.
func New(store datastore.Deduper, opts ...Option) *Deduper {
	d := &Deduper{
		store: store,
		load:  true,
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run computes the canon delta and, unless loading is disabled, applies it.
// The computed delta is returned either way.
func (d *Deduper) Run(ctx context.Context) (*chai.CanonDelta, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "dedupe/Deduper.Run")

	canons, err := d.store.Canons(ctx)
	if err != nil {
		return nil, err
	}
	assigned, err := d.store.CanonPackages(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := d.store.PackageHomepages(ctx)
	if err != nil {
		return nil, err
	}
	zlog.Debug(ctx).
		Int("canons", len(canons)).
		Int("assignments", len(assigned)).
		Int("homepage_rows", len(rows)).
		Msg("loaded current state")

	delta := d.plan(ctx, canons, assigned, rows)
	zlog.Info(ctx).
		Int("new_canons", len(delta.NewCanons)).
		Int("new_links", len(delta.NewCanonPackages)).
		Int("moves", len(delta.Moves)).
		Msg("planned canon delta")

	if !d.load {
		zlog.Info(ctx).Msg("load disabled, skipping apply")
		return delta, nil
	}
	if delta.Empty() {
		return delta, nil
	}
	if err := d.store.ApplyDedupe(ctx, delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// plan stages the differential writes. Rows arrive ordered newest-first
// within each package, so the first canonical row per package is its
// electing homepage.
func (d *Deduper) plan(ctx context.Context, canons map[string]chai.Canon, assigned map[uuid.UUID]uuid.UUID, rows []datastore.PackageHomepage) *chai.CanonDelta {
	now := d.now()
	delta := &chai.CanonDelta{}
	// Canons staged this run, so packages sharing a brand-new homepage
	// converge on one row.
	staged := make(map[string]uuid.UUID)
	done := make(map[uuid.UUID]struct{})
	var skipped int

	for _, row := range rows {
		if _, ok := done[row.PackageID]; ok {
			continue
		}
		// Rows predating canonicalization linger in the store; they do not
		// elect a canon.
		if !urlnorm.IsCanonical(row.URL.URL) {
			skipped++
			continue
		}
		done[row.PackageID] = struct{}{}

		canonID, exists := staged[row.URL.URL]
		if !exists {
			if c, ok := canons[row.URL.URL]; ok {
				canonID, exists = c.ID, true
			}
		}
		if !exists {
			canonID = uuid.New()
			delta.NewCanons = append(delta.NewCanons, chai.Canon{
				ID:        canonID,
				URL:       row.URL.URL,
				Name:      row.PackageName,
				CreatedAt: now,
				UpdatedAt: now,
			})
			staged[row.URL.URL] = canonID
		}

		linked, ok := assigned[row.PackageID]
		switch {
		case !ok:
			delta.NewCanonPackages = append(delta.NewCanonPackages, chai.CanonPackage{
				ID:        uuid.New(),
				CanonID:   canonID,
				PackageID: row.PackageID,
				CreatedAt: now,
				UpdatedAt: now,
			})
		case linked != canonID:
			delta.Moves = append(delta.Moves, chai.CanonMove{
				PackageID: row.PackageID,
				CanonID:   canonID,
			})
		}
	}
	if skipped != 0 {
		zlog.Warn(ctx).Int("count", skipped).Msg("skipped non-canonical homepage rows")
	}
	return delta
}
