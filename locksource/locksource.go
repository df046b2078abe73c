// Package locksource describes the locks the pipeline machinery uses to keep
// at most one run of a given pipeline in flight.
//
// Locks must be consistent system-wide to provide any benefit. That is, if a
// deployment runs multiple ingestion processes against one database, any
// [ContextLock] implementations must be backed by some shared resource.
package locksource

import (
	"context"
)

// ContextLock abstracts over how locks are implemented.
//
// The Lock and TryLock methods take an exclusive lock based on the provided and
// return a Context that is canceled if the parent Context is canceled or the
// lock is lost for some other reason.
//
// A multi-process deployment needs distributed locks, like the advisory-lock
// implementation in the pglock subpackage.
// Single-process use can rely on process-local locks, such as [Local].
type ContextLock interface {
	// Lock waits to acquire the named lock. The returned Context may be
	// canceled if the process loses confidence that the lock is valid.
	Lock(ctx context.Context, key string) (context.Context, context.CancelFunc)
	// TryLock returns a canceled Context if it would need to wait to acquire
	// the named lock.
	TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc)
}
