package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore/postgres/migrations"
)

// Connect initializes a [pgxpool.Pool] based on the connection string.
func Connect(ctx context.Context, connString string, applicationName string) (*pgxpool.Pool, error) {
	const op = `datastore/postgres/Connect`
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, &chai.Error{
			Op:      op,
			Kind:    chai.ErrInvalid,
			Message: "failed to parse connection string",
			Inner: &chai.Error{
				// Permanent because the same connection string should always
				// yield an error.
				Kind:  chai.ErrPermanent,
				Inner: err,
			},
		}
	}
	const appnameKey = `application_name`
	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params[appnameKey]; !ok {
		params[appnameKey] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &chai.Error{
			Op:      op,
			Kind:    chai.ErrTransient,
			Message: "failed to create connection pool",
			Inner:   err,
		}
	}
	return pool, nil
}

// MigrateSchema brings the database at the connection string up to the
// current schema version.
func MigrateSchema(ctx context.Context, connString string) error {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", stdlib.RegisterConnConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = migrations.MigrationTable
	if err := migrator.Exec(migrate.Up, migrations.Migrations...); err != nil {
		return fmt.Errorf("failed to perform migrations: %w", err)
	}
	return nil
}
