// Command chaid is the CHAI ingestion service: it drives every adapter
// pipeline against one Postgres database and, when enabled, runs the
// deduplicator after each full cycle.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teaxyz/chai/crates"
	"github.com/teaxyz/chai/datastore/postgres"
	"github.com/teaxyz/chai/debian"
	"github.com/teaxyz/chai/dedupe"
	"github.com/teaxyz/chai/homebrew"
	"github.com/teaxyz/chai/internal/fetch"
	"github.com/teaxyz/chai/libchai"
	"github.com/teaxyz/chai/libchai/driver"
	"github.com/teaxyz/chai/locksource/pglock"
	"github.com/teaxyz/chai/pkgx"
)

// Config is parsed from the environment by goconfig.
type Config struct {
	DatabaseURL     string `cfg:"CHAI_DATABASE_URL" cfgDefault:"host=localhost port=5435 user=postgres dbname=chai sslmode=disable" cfgHelper:"Postgres DSN"`
	DataDir         string `cfg:"DATA_DIR" cfgDefault:"./data" cfgHelper:"Root directory for fetched artifacts"`
	Fetch           bool   `cfg:"FETCH" cfgDefault:"true" cfgHelper:"Fetch upstream data; when false, reuse the last snapshot on disk"`
	NoCache         bool   `cfg:"NO_CACHE" cfgDefault:"false" cfgHelper:"Delete fetched artifacts after a successful ingest"`
	Test            bool   `cfg:"TEST" cfgDefault:"false" cfgHelper:"Parse fixture inputs from DATA_DIR/<pm>/test instead of fetching"`
	Frequency       int    `cfg:"FREQUENCY" cfgDefault:"24" cfgHelper:"Scheduling interval in hours"`
	EnableScheduler bool   `cfg:"ENABLE_SCHEDULER" cfgDefault:"true" cfgHelper:"Keep running periodically; when false, run once and exit"`
	Debug           bool   `cfg:"DEBUG" cfgDefault:"false" cfgHelper:"Log at debug level"`
	Dedupe          bool   `cfg:"DEDUPE" cfgDefault:"false" cfgHelper:"Run the deduplicator after each pipeline cycle"`
	Load            bool   `cfg:"LOAD" cfgDefault:"false" cfgHelper:"Let the deduplicator write; when false it only plans"`
	Run             string `cfg:"RUN" cfgDefault:"." cfgHelper:"Regexp of pipelines to run"`
	Migrations      bool   `cfg:"MIGRATIONS" cfgDefault:"true" cfgHelper:"Run schema migrations on startup"`
}

func main() {
	var conf Config
	if err := goconfig.Parse(&conf); err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}

	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
	zlog.Set(&l)
	log.Logger = l

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &conf); err != nil {
		log.Error().Err(err).Msg("chaid exiting")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *Config) error {
	client := &http.Client{Timeout: 10 * time.Minute}
	fetcher := fetch.New(conf.DataDir, fetch.WithClient(client))

	poolCfg, err := pgxpool.ParseConfig(conf.DatabaseURL)
	if err != nil {
		return err
	}
	if conf.Migrations {
		if err := postgres.MigrateSchema(ctx, conf.DatabaseURL); err != nil {
			return err
		}
	}
	pool, err := postgres.Connect(ctx, conf.DatabaseURL, "chaid")
	if err != nil {
		return err
	}
	store := postgres.NewStore(pool)

	locks, err := pglock.New(ctx, poolCfg)
	if err != nil {
		store.Close()
		return err
	}
	defer locks.Close()

	updaters, err := buildUpdaters(conf, fetcher, store, client)
	if err != nil {
		store.Close()
		return err
	}

	opts := &libchai.Opts{
		ConnString:       conf.DatabaseURL,
		Store:            store,
		Updaters:         updaters,
		Client:           client,
		Locks:            locks,
		DisableScheduler: true,
	}
	if conf.NoCache {
		opts.Cleanup = func(name, dir string) {
			if err := fetcher.Cleanup(name, dir); err != nil {
				log.Warn().Str("updater", name).Err(err).Msg("artifact cleanup failed")
			}
		}
	}
	lib, err := libchai.New(ctx, opts)
	if err != nil {
		return err
	}
	defer lib.Close(ctx)

	deduper := dedupe.New(lib.Store(), dedupe.WithLoad(conf.Load))
	cycle := func(ctx context.Context) error {
		if err := lib.Run(ctx); err != nil {
			return err
		}
		if !conf.Dedupe {
			return nil
		}
		_, err := deduper.Run(ctx)
		return err
	}

	if err := cycle(ctx); err != nil {
		if !conf.EnableScheduler {
			return err
		}
		log.Error().Err(err).Msg("pipeline cycle failed")
	}
	if !conf.EnableScheduler {
		return nil
	}

	interval := time.Duration(conf.Frequency) * time.Hour
	log.Info().Dur("interval", interval).Msg("scheduler running")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		case <-t.C:
			if err := cycle(ctx); err != nil {
				log.Error().Err(err).Msg("pipeline cycle failed")
			}
		}
	}
}

// buildUpdaters constructs the adapters named by the RUN filter, mapping the
// FETCH and TEST flags onto per-adapter options.
func buildUpdaters(conf *Config, fetcher *fetch.Fetcher, store *postgres.Store, client *http.Client) ([]driver.Updater, error) {
	re, err := regexp.Compile(conf.Run)
	if err != nil {
		return nil, err
	}

	reuse := !conf.Fetch
	// With TEST set, adapters parse checked-in fixtures instead of
	// fetching.
	local := func(name string) string {
		if !conf.Test {
			return ""
		}
		return filepath.Join(conf.DataDir, name, "test")
	}
	all := []driver.Updater{
		crates.NewUpdater(fetcher,
			crates.WithReuseLatest(reuse),
			crates.WithLocalDir(local("crates"))),
		homebrew.NewUpdater(fetcher,
			homebrew.WithReuseLatest(reuse),
			homebrew.WithLocalDir(local("homebrew"))),
		debian.NewUpdater(fetcher,
			debian.WithReuseLatest(reuse),
			debian.WithLocalDir(local("debian"))),
		pkgx.NewUpdater(fetcher,
			pkgx.WithReuseLatest(reuse),
			pkgx.WithHomepages(pkgx.NewResolver(store, pkgx.WithClient(client))),
			pkgx.WithLocalDir(local("pkgx"))),
	}

	var out []driver.Updater
	for _, u := range all {
		if re.MatchString(u.Name()) {
			out = append(out, u)
		}
	}
	return out, nil
}
