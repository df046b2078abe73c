package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/teaxyz/chai/crates"
	"github.com/teaxyz/chai/datastore/postgres"
	"github.com/teaxyz/chai/debian"
	"github.com/teaxyz/chai/diff"
	"github.com/teaxyz/chai/homebrew"
	"github.com/teaxyz/chai/internal/fetch"
	"github.com/teaxyz/chai/libchai/driver"
	"github.com/teaxyz/chai/libchai/updates"
	"github.com/teaxyz/chai/pkgx"
)

// newUpdater constructs the named adapter.
func newUpdater(name string, f *fetch.Fetcher, store *postgres.Store, client *http.Client) (driver.Updater, error) {
	switch name {
	case "crates":
		return crates.NewUpdater(f), nil
	case "homebrew":
		return homebrew.NewUpdater(f), nil
	case "debian":
		return debian.NewUpdater(f), nil
	case "pkgx":
		return pkgx.NewUpdater(f,
			pkgx.WithHomepages(pkgx.NewResolver(store, pkgx.WithClient(client)))), nil
	}
	return nil, fmt.Errorf("unknown pipeline %q", name)
}

func connect(ctx context.Context, cfg *commonConfig) (*postgres.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("no DSN provided (flag -D or CHAI_DATABASE_URL)")
	}
	pool, err := postgres.Connect(ctx, cfg.DSN, "chaictl")
	if err != nil {
		return nil, err
	}
	return postgres.NewStore(pool), nil
}

// runOne drives a single pipeline end to end, writes included.
func runOne(ctx context.Context, cfg *commonConfig, args []string) error {
	if len(args) != 1 {
		return errors.New("run takes exactly one pipeline name")
	}
	store, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := http.DefaultClient
	u, err := newUpdater(args[0], fetch.New(cfg.DataDir, fetch.WithClient(client)), store, client)
	if err != nil {
		return err
	}
	mgr, err := updates.NewManager(ctx, store, nil, client, []driver.Updater{u})
	if err != nil {
		return err
	}
	return mgr.Run(ctx)
}

// diffOne fetches, parses and diffs a single pipeline, printing the delta
// summary instead of ingesting.
func diffOne(ctx context.Context, cfg *commonConfig, args []string) error {
	if len(args) != 1 {
		return errors.New("diff takes exactly one pipeline name")
	}
	store, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client := http.DefaultClient
	u, err := newUpdater(args[0], fetch.New(cfg.DataDir, fetch.WithClient(client)), store, client)
	if err != nil {
		return err
	}

	pm, err := store.PackageManager(ctx, u.Name())
	if err != nil {
		return err
	}
	urlTypes, err := store.URLTypes(ctx)
	if err != nil {
		return err
	}
	depTypes, err := store.DependencyTypes(ctx)
	if err != nil {
		return err
	}
	dcfg := &diff.Config{
		PackageManager:  pm,
		URLTypes:        urlTypes,
		DependencyTypes: depTypes,
	}
	dcfg.Sources = make(map[string]uuid.UUID)
	for _, n := range []string{pm.Name, "github"} {
		src, err := store.Source(ctx, n)
		if err != nil {
			return err
		}
		dcfg.Sources[src.Name] = src.ID
	}

	dir, _, err := u.Fetch(ctx, "")
	switch {
	case err == nil:
	case errors.Is(err, driver.Unchanged):
		fmt.Println("upstream unchanged")
		return nil
	default:
		return err
	}
	snapshot, err := u.Parse(ctx, dir)
	if err != nil {
		return err
	}
	graph, err := store.CurrentGraph(ctx, pm.ID)
	if err != nil {
		return err
	}
	urls, err := store.CurrentURLs(ctx, pm.ID)
	if err != nil {
		return err
	}
	cache := diff.NewCache(ctx, pm, graph, urls)

	delta, err := diff.Diff(ctx, dcfg, cache, snapshot)
	if err != nil {
		return err
	}
	fmt.Printf("pipeline %s against %d current packages:\n", pm.Name, len(cache.Packages))
	fmt.Printf("  new packages:         %d\n", len(delta.NewPackages))
	fmt.Printf("  updated packages:     %d\n", len(delta.UpdatedPackages))
	fmt.Printf("  new urls:             %d\n", len(delta.NewURLs))
	fmt.Printf("  new links:            %d\n", len(delta.NewPackageURLs))
	fmt.Printf("  new users:            %d\n", len(delta.NewUsers))
	fmt.Printf("  new user links:       %d\n", len(delta.NewUserPackages))
	fmt.Printf("  new dependencies:     %d\n", len(delta.NewDependencies))
	fmt.Printf("  removed dependencies: %d\n", len(delta.RemovedDependencies))
	if u.Authoritative() {
		fmt.Printf("  would delete:         %d\n", len(cache.Missing(snapshot)))
	}
	return nil
}
