package integration

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDB is a per-test database created on the configured server.
type TestDB struct {
	base string
	dsn  string
	name string
}

// NewDB creates a fresh database and returns a handle to it.
//
// The database is named uniquely, so concurrent tests on the same server do
// not collide. Callers should arrange for Close to be called to drop it.
func NewDB(ctx context.Context, t testing.TB) (*TestDB, error) {
	t.Helper()
	base := os.Getenv(EnvDSN)
	if base == "" {
		return nil, fmt.Errorf("integration: %s not set", EnvDSN)
	}
	name := "chai_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	cfg, err := pgx.ParseConfig(base)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %q;`, name)); err != nil {
		return nil, err
	}

	dsn, err := withDatabase(base, name)
	if err != nil {
		return nil, err
	}
	t.Logf("created database %q", name)
	return &TestDB{base: base, dsn: dsn, name: name}, nil
}

// DSN reports the connection string for the test database.
func (db *TestDB) DSN() string { return db.dsn }

// ConfigV5 returns a pool configuration pointed at the test database.
func (db *TestDB) ConfigV5() *pgxpool.Config {
	cfg, err := pgxpool.ParseConfig(db.dsn)
	if err != nil {
		// The string was parsed once already during NewDB.
		panic(err)
	}
	return cfg
}

// Close drops the test database.
func (db *TestDB) Close(ctx context.Context, t testing.TB) {
	t.Helper()
	cfg, err := pgx.ParseConfig(db.base)
	if err != nil {
		t.Error(err)
		return
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		t.Error(err)
		return
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP DATABASE %q WITH (FORCE);`, db.name)); err != nil {
		t.Error(err)
	}
}

var dbnameRE = regexp.MustCompile(`(^|\s)dbname=\S+`)

// withDatabase rewrites a connection string, URL or keyword form, to point
// at the named database.
func withDatabase(dsn, name string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		u.Path = "/" + name
		return u.String(), nil
	}
	out := dbnameRE.ReplaceAllString(dsn, "")
	return strings.TrimSpace(out) + " dbname=" + name, nil
}
