// Package updates drives the adapter pipelines: fetch and parse in parallel
// with the cache load, diff, ingest, then deletions for authoritative
// sources.
package updates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
	"github.com/teaxyz/chai/diff"
	"github.com/teaxyz/chai/libchai/driver"
	"github.com/teaxyz/chai/locksource"
)

// DefaultInterval is the pipeline firing interval used when no frequency is
// configured.
const DefaultInterval = 24 * time.Hour

// DefaultBatchSize is the default max in-flight pipelines.
var DefaultBatchSize = runtime.NumCPU()

// Configs maps an updater name to its configuration decoder.
type Configs map[string]driver.ConfigUnmarshaler

// Manager oversees the configuration and invocation of the adapter
// pipelines.
//
// The Manager may be used in a one-shot fashion via Run, configured to fire
// periodically via Start, or both.
type Manager struct {
	store    datastore.Ingester
	locks    locksource.ContextLock
	client   *http.Client
	updaters []driver.Updater
	configs  Configs

	batchSize int
	interval  time.Duration
	// cleanup, when set, is invoked with an updater's name and snapshot
	// directory after a successful run. Pipelines running with artifact
	// caching off use it to drop the fetched snapshot.
	cleanup func(name, dir string)

	// fp remembers the last successful fingerprint per updater so an
	// unchanged upstream short-circuits the next run.
	mu sync.Mutex
	fp map[string]driver.Fingerprint
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInterval sets the period of Start's firing.
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.interval = d }
}

// WithBatchSize limits how many pipelines run concurrently.
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) { m.batchSize = n }
}

// WithConfigs provides per-updater configuration.
func WithConfigs(cfgs Configs) ManagerOption {
	return func(m *Manager) { m.configs = cfgs }
}

// WithCleanup registers a hook run after each successful pipeline run.
func WithCleanup(fn func(name, dir string)) ManagerOption {
	return func(m *Manager) { m.cleanup = fn }
}

// NewManager returns a manager ready to have its Start or Run methods
// called.
func NewManager(ctx context.Context, store datastore.Ingester, locks locksource.ContextLock, client *http.Client, updaters []driver.Updater, opts ...ManagerOption) (*Manager, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libchai/updates/NewManager")
	if client == nil {
		client = http.DefaultClient
	}
	if locks == nil {
		locks = &locksource.Local{}
	}
	m := &Manager{
		store:     store,
		locks:     locks,
		client:    client,
		updaters:  updaters,
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
		fp:        make(map[string]driver.Fingerprint),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, u := range m.updaters {
		f, fOK := u.(driver.Configurable)
		cfg, cfgOK := m.configs[u.Name()]
		if fOK && cfgOK {
			if err := f.Configure(ctx, cfg, m.client); err != nil {
				return nil, fmt.Errorf("failed to configure updater %q: %w", u.Name(), err)
			}
		}
	}
	return m, nil
}

// Start runs pipelines at the configured interval, beginning with an
// immediate run.
//
// Start is designed to be run as a goroutine. Cancel the provided Context
// to end the loop.
func (m *Manager) Start(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libchai/updates/Manager.Start")
	if m.interval == 0 {
		return errors.New("manager must be configured with an interval to start")
	}

	zlog.Info(ctx).Msg("starting initial update")
	if err := m.Run(ctx); err != nil {
		zlog.Error(ctx).Err(err).Msg("errors encountered during update run")
	}

	zlog.Info(ctx).Str("interval", m.interval.String()).Msg("starting background updates")
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := m.Run(ctx); err != nil {
				zlog.Error(ctx).Err(err).Msg("errors encountered during update run")
			}
		}
	}
}

// Run drives every updater once, at most batchSize at a time.
//
// An updater whose lock is already held elsewhere is skipped, not queued; a
// failed updater is logged and does not prevent the others from running.
// Run is safe to call at any time, regardless of whether background updates
// are running.
func (m *Manager) Run(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "libchai/updates/Manager.Run")
	zlog.Info(ctx).
		Int("total", len(m.updaters)).
		Int("batchSize", m.batchSize).
		Msg("running updaters")

	sem := semaphore.NewWeighted(int64(m.batchSize))
	errChan := make(chan error, len(m.updaters))
	for i := range m.updaters {
		if err := sem.Acquire(ctx, 1); err != nil {
			zlog.Error(ctx).Err(err).Msg("sem acquire failed, ending update run")
			break
		}
		go func(u driver.Updater) {
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				return
			}

			lctx, done := m.locks.TryLock(ctx, u.Name())
			defer done()
			if err := lctx.Err(); err != nil {
				zlog.Debug(ctx).
					Str("updater", u.Name()).
					Msg("another process is running this updater, skipping")
				return
			}

			if err := m.driveUpdater(lctx, u); err != nil {
				errChan <- fmt.Errorf("%v: %w", u.Name(), err)
			}
		}(m.updaters[i])
	}

	// Wait for all in-flight goroutines; they are guaranteed to release
	// their sems.
	sem.Acquire(context.Background(), int64(m.batchSize))

	close(errChan)
	if len(errChan) != 0 {
		var b strings.Builder
		b.WriteString("update errors:\n")
		for err := range errChan {
			fmt.Fprintf(&b, "%v\n", err)
		}
		return errors.New(b.String())
	}
	return nil
}

// driveUpdater performs one pipeline run: fetch and parse concurrently with
// the cache load, then diff, ingest, deletions, and the load marker.
func (m *Manager) driveUpdater(ctx context.Context, u driver.Updater) error {
	name := u.Name()
	ctx = zlog.ContextWithValues(ctx,
		"component", "libchai/updates/Manager.driveUpdater",
		"updater", name)
	zlog.Info(ctx).Msg("starting update")
	defer zlog.Info(ctx).Msg("finished update")

	pm, err := m.store.PackageManager(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to resolve package manager: %w", err)
	}
	cfg, err := m.diffConfig(ctx, pm)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prevFP := m.fp[name]
	m.mu.Unlock()

	var (
		dir      string
		newFP    driver.Fingerprint
		snapshot []chai.NormalizedPackage
		cache    *diff.Cache
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		dir, newFP, err = u.Fetch(ectx, prevFP)
		switch {
		case err == nil:
		case errors.Is(err, driver.Unchanged):
			return err
		default:
			return fmt.Errorf("fetch failed: %w", err)
		}
		snapshot, err = u.Parse(ectx, dir)
		if err != nil {
			return fmt.Errorf("parse failed: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		graph, err := m.store.CurrentGraph(ectx, pm.ID)
		if err != nil {
			return fmt.Errorf("failed to load current graph: %w", err)
		}
		urls, err := m.store.CurrentURLs(ectx, pm.ID)
		if err != nil {
			return fmt.Errorf("failed to load current urls: %w", err)
		}
		cache = diff.NewCache(ectx, pm, graph, urls)
		return nil
	})
	switch err := eg.Wait(); {
	case err == nil:
	case errors.Is(err, driver.Unchanged):
		zlog.Info(ctx).Msg("upstream data unchanged, skipping")
		return nil
	default:
		return err
	}

	delta, err := diff.Diff(ctx, cfg, cache, snapshot)
	if err != nil {
		return fmt.Errorf("diff failed: %w", err)
	}
	if err := m.store.Ingest(ctx, delta); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if u.Authoritative() {
		if missing := cache.Missing(snapshot); len(missing) != 0 {
			if _, err := m.store.DeletePackages(ctx, pm.ID, missing); err != nil {
				return fmt.Errorf("deletion failed: %w", err)
			}
		}
	}

	if err := m.store.RecordLoad(ctx, pm.ID); err != nil {
		return fmt.Errorf("failed to record load: %w", err)
	}

	m.mu.Lock()
	m.fp[name] = newFP
	m.mu.Unlock()
	if m.cleanup != nil && dir != "" {
		m.cleanup(name, dir)
	}
	return nil
}

// diffConfig assembles the type lookups the diff engine needs.
func (m *Manager) diffConfig(ctx context.Context, pm chai.PackageManager) (*diff.Config, error) {
	urlTypes, err := m.store.URLTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load url types: %w", err)
	}
	depTypes, err := m.store.DependencyTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency types: %w", err)
	}
	sources := make(map[string]uuid.UUID)
	for _, n := range []string{pm.Name, "github"} {
		src, err := m.store.Source(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source %q: %w", n, err)
		}
		sources[src.Name] = src.ID
	}
	return &diff.Config{
		PackageManager:  pm,
		URLTypes:        urlTypes,
		DependencyTypes: depTypes,
		Sources:         sources,
	}, nil
}
