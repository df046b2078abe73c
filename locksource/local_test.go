package locksource

import (
	"context"
	"testing"
)

func TestLocalTryLock(t *testing.T) {
	ctx := context.Background()
	l := &Local{}
	key := t.Name()

	lc, done := l.TryLock(ctx, key)
	if err := lc.Err(); err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}

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

func TestLocalLockWaits(t *testing.T) {
	ctx := context.Background()
	l := &Local{}
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

func TestLocalLockHonorsContext(t *testing.T) {
	l := &Local{}
	key := t.Name()

	lc, done := l.TryLock(context.Background(), key)
	if err := lc.Err(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wc, wdone := l.Lock(ctx, key)
	defer wdone()
	if err := wc.Err(); err == nil {
		t.Error("Lock returned a live context despite cancellation")
	}
}
