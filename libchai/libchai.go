// Package libchai exports the assembled ingestion system: a datastore, the
// adapter pipelines, and the scheduler driving them.
package libchai

import (
	"context"

	"github.com/quay/zlog"

	"github.com/teaxyz/chai/datastore/postgres"
	"github.com/teaxyz/chai/libchai/updates"
)

// Libchai runs the configured adapter pipelines against one database.
type Libchai struct {
	store   *postgres.Store
	manager *updates.Manager
	once    bool
}

// New initializes the store and the update manager.
func New(ctx context.Context, opts *Opts) (*Libchai, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libchai/New")
	if err := opts.parse(); err != nil {
		return nil, err
	}

	if opts.Migrations {
		if err := postgres.MigrateSchema(ctx, opts.ConnString); err != nil {
			return nil, err
		}
	}
	store := opts.Store
	if store == nil {
		pool, err := postgres.Connect(ctx, opts.ConnString, "libchai")
		if err != nil {
			return nil, err
		}
		store = postgres.NewStore(pool)
	}

	mgr, err := updates.NewManager(ctx, store, opts.Locks, opts.Client, opts.Updaters,
		updates.WithInterval(opts.Interval),
		updates.WithBatchSize(opts.BatchSize),
		updates.WithConfigs(opts.UpdaterConfigs),
		updates.WithCleanup(opts.Cleanup),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	l := &Libchai{
		store:   store,
		manager: mgr,
		once:    opts.DisableScheduler,
	}
	zlog.Info(ctx).Msg("libchai initialized")
	return l, nil
}

// Start runs the pipelines: once when the scheduler is disabled, otherwise
// periodically until the Context is canceled.
func (l *Libchai) Start(ctx context.Context) error {
	if l.once {
		return l.manager.Run(ctx)
	}
	return l.manager.Start(ctx)
}

// Run drives every pipeline once, regardless of scheduler configuration.
func (l *Libchai) Run(ctx context.Context) error {
	return l.manager.Run(ctx)
}

// Store exposes the underlying datastore.
func (l *Libchai) Store() *postgres.Store {
	return l.store
}

// Close releases held resources.
func (l *Libchai) Close(_ context.Context) error {
	l.store.Close()
	return nil
}
