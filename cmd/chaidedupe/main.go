// Command chaidedupe runs the canonical-project merge once and exits.
//
// With LOAD unset it plans the delta and writes nothing, which makes it safe
// to point at a production database for inspection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/crgimenes/goconfig"
	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teaxyz/chai/datastore/postgres"
	"github.com/teaxyz/chai/dedupe"
)

// Config is parsed from the environment by goconfig.
type Config struct {
	DatabaseURL string `cfg:"CHAI_DATABASE_URL" cfgDefault:"host=localhost port=5435 user=postgres dbname=chai sslmode=disable" cfgHelper:"Postgres DSN"`
	Load        bool   `cfg:"LOAD" cfgDefault:"false" cfgHelper:"Apply the planned delta; when false, only plan"`
	Debug       bool   `cfg:"DEBUG" cfgDefault:"false" cfgHelper:"Log at debug level"`
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
		log.Error().Err(err).Msg("chaidedupe exiting")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *Config) error {
	pool, err := postgres.Connect(ctx, conf.DatabaseURL, "chaidedupe")
	if err != nil {
		return err
	}
	store := postgres.NewStore(pool)
	defer store.Close()

	delta, err := dedupe.New(store, dedupe.WithLoad(conf.Load)).Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("new_canons", len(delta.NewCanons)).
		Int("new_links", len(delta.NewCanonPackages)).
		Int("moves", len(delta.Moves)).
		Bool("applied", conf.Load).
		Msg("dedupe complete")
	return nil
}
