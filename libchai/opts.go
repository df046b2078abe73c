package libchai

import (
	"fmt"
	"net/http"
	"time"

	"github.com/teaxyz/chai/datastore/postgres"
	"github.com/teaxyz/chai/libchai/driver"
	"github.com/teaxyz/chai/libchai/updates"
	"github.com/teaxyz/chai/locksource"
)

// Opts configures the library.
type Opts struct {
	// ConnString is the Postgres DSN.
	ConnString string
	// Store reuses an existing datastore instead of opening a new pool.
	// Callers wiring components that need the store before construction
	// (e.g. the pkgx homepage resolver) pass it here; ownership transfers
	// and Close releases it.
	Store *postgres.Store
	// Migrations runs schema migrations on startup when true.
	Migrations bool
	// Updaters are the adapter pipelines to drive.
	Updaters []driver.Updater
	// UpdaterConfigs carries per-updater configuration decoders.
	UpdaterConfigs updates.Configs
	// Client is used for all outgoing HTTP requests. http.DefaultClient
	// when nil.
	Client *http.Client
	// Interval is the scheduler period. Defaults to
	// [updates.DefaultInterval].
	Interval time.Duration
	// BatchSize limits concurrently running pipelines. Defaults to
	// [updates.DefaultBatchSize].
	BatchSize int
	// DisableScheduler makes Start run the pipelines once and return
	// instead of firing periodically.
	DisableScheduler bool
	// Locks provides the single-flight locks. A process-local
	// implementation is used when nil; deployments running more than one
	// process must provide distributed locks.
	Locks locksource.ContextLock
	// Cleanup, when set, runs after each successful pipeline run with the
	// updater's name and snapshot directory.
	Cleanup func(name, dir string)
}

func (o *Opts) parse() error {
	if o.ConnString == "" && o.Store == nil {
		return fmt.Errorf("libchai: no connection string provided")
	}
	if len(o.Updaters) == 0 {
		return fmt.Errorf("libchai: no updaters provided")
	}
	if o.Interval == 0 {
		o.Interval = updates.DefaultInterval
	}
	if o.BatchSize == 0 {
		o.BatchSize = updates.DefaultBatchSize
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	return nil
}
