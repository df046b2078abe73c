// Package integration provides helpers for tests that want to use a live
// PostgreSQL server.
//
// Tests are expected to call [NeedDB] before touching the database. The
// harness is driven by the CHAI_TEST_DATABASE_URL environment variable,
// which must point at a server the tests may create and drop databases on.
package integration

import (
	"os"
	"testing"
)

// EnvDSN is the environment variable naming the PostgreSQL server used for
// integration tests.
const EnvDSN = `CHAI_TEST_DATABASE_URL`

// Skip marks the test as skipped with a uniform message.
func Skip(t testing.TB) {
	t.Helper()
	t.Skip("skipping integration test: set " + EnvDSN + " to enable")
}

// NeedDB skips the test unless a database is configured.
//
// Tests are also skipped in short mode.
func NeedDB(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test: short mode")
	}
	if os.Getenv(EnvDSN) == "" {
		Skip(t)
	}
}
