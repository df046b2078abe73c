// Package postgres implements the chai datastore contracts against
// PostgreSQL.
//
// Every method issues its queries through a shared [pgxpool.Pool]. Bulk
// writes go through pkg/microbatch inside a single transaction, so a failed
// ingest leaves no partial state.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teaxyz/chai/datastore"
)

// Store is the PostgreSQL-backed datastore.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ datastore.Ingester = (*Store)(nil)
	_ datastore.Deduper  = (*Store)(nil)
)

// NewStore returns a Store using the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
