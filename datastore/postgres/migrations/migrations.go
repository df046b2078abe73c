// Package migrations holds the embedded SQL migrations for the chai schema
// and the metadata needed to run them.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/remind101/migrate"
)

// MigrationTable is the table the migrator records applied migrations in.
const MigrationTable = "chai_migrations"

//go:embed */*.sql
var fs embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := fs.ReadFile(n)
	return func(tx *sql.Tx) error {
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

// Migrations is the ordered migration set for the chai database.
var Migrations = []migrate.Migration{
	{
		ID: 1,
		Up: runFile("chai/01-init.sql"),
	},
	{
		ID: 2,
		Up: runFile("chai/02-canons.sql"),
	},
}
