package pglock

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/log/testingadapter"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai/test/integration"
)

func basicSetup(t testing.TB) (context.Context, *Locker) {
	t.Helper()
	integration.NeedDB(t)
	ctx := zlog.Test(context.Background(), t)

	// Setup the Database.
	db, err := integration.NewDB(ctx, t)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close(ctx, t) })
	cfg := db.ConfigV5()
	cfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   testingadapter.NewLogger(t),
		LogLevel: tracelog.LogLevelDebug,
	}

	// Create the Locker.
	l, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	return ctx, l
}

func TestTryLock(t *testing.T) {
	ctx, l := basicSetup(t)
	key := t.Name()

	lc, done := l.TryLock(ctx, key)
	if err := lc.Err(); err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}

	// A second attempt on the same key must fail while the first is held.
	blocked, blockedDone := l.TryLock(ctx, key)
	if err := blocked.Err(); err == nil {
		t.Error("second TryLock unexpectedly succeeded")
	}
	blockedDone()

	done()
	retry, retryDone := l.TryLock(ctx, key)
	defer retryDone()
	if err := retry.Err(); err != nil {
		t.Errorf("TryLock after release failed: %v", err)
	}
}

func TestLockWaits(t *testing.T) {
	ctx, l := basicSetup(t)
	key := t.Name()

	lc, done := l.TryLock(ctx, key)
	if err := lc.Err(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		wc, wdone := l.Lock(ctx, key)
		defer wdone()
		if err := wc.Err(); err != nil {
			t.Errorf("Lock returned canceled context: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Lock acquired while the key was held")
	default:
	}
	done()
	<-acquired
}
