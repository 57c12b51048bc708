package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reconcilehq/go-coord/v1/lock"
)

func TestWithLockSuccess(t *testing.T) {
	m := lock.New(lock.WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	got, err := WithLock(ctx, m, "project:1", "worker", func(context.Context) (string, error) {
		if !m.IsLocked("project:1") {
			t.Fatal("lease not held during operation")
		}
		return "imported", nil
	})
	if err != nil {
		t.Fatalf("withlock: %v", err)
	}
	if got != "imported" {
		t.Fatalf("unexpected result %q", got)
	}
	if m.IsLocked("project:1") {
		t.Fatal("lease leaked after success")
	}
}

func TestWithLockReleasesOnOperationError(t *testing.T) {
	m := lock.New(lock.WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	attempts := 0
	_, err := WithLock(ctx, m, "k", "worker", func(context.Context) (int, error) {
		attempts++
		return 0, boom
	}, WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	if !errors.Is(err, ErrRunExhausted) {
		t.Fatalf("expected ErrRunExhausted, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if m.IsLocked("k") {
		t.Fatal("lease leaked after operation failure")
	}
}

func TestWithLockRetriesOperationUntilSuccess(t *testing.T) {
	m := lock.New(lock.WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	attempts := 0
	got, err := WithLock(ctx, m, "k", "worker", func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	}, WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("withlock: %v", err)
	}
	if got != 7 || attempts != 3 {
		t.Fatalf("got %d after %d attempts", got, attempts)
	}
}

func TestWithLockAcquireExhausted(t *testing.T) {
	m := lock.New(lock.WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	holder, ok := m.Acquire(ctx, "k", "other", nil)
	if !ok {
		t.Fatal("setup acquire failed")
	}

	_, err := WithLock(ctx, m, "k", "worker", func(context.Context) (int, error) {
		t.Fatal("operation must not run without the lease")
		return 0, nil
	}, WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	if !errors.Is(err, ErrAcquireExhausted) {
		t.Fatalf("expected ErrAcquireExhausted, got %v", err)
	}
	if errors.Is(err, ErrRunExhausted) {
		t.Fatal("exhaustion kinds must be distinguishable")
	}
	// The contender's lease is untouched.
	if !m.Release("k", holder) {
		t.Fatal("holder lease disturbed by failed contender")
	}
	if m.IsLocked("k") {
		t.Fatal("no lease may remain after the call settles")
	}
}

func TestWithLockLeaseNotHeldAcrossBackoff(t *testing.T) {
	m := lock.New(lock.WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	attempts := 0
	_, err := WithLock(ctx, m, "k", "worker", func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("transient")
		}
		return 1, nil
	}, WithRetryDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("withlock: %v", err)
	}

	// A second contender acquiring during the first call's backoff window
	// would have made attempt 2 fail with contention instead; reaching
	// success on attempt 2 shows the lease was released before backing off.
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithLockRenewalKeepsLongOperationCovered(t *testing.T) {
	m := lock.New(lock.WithTimeout(30*time.Millisecond), lock.WithSweepInterval(0))
	defer m.Close()
	ctx := context.Background()

	_, err := WithLock(ctx, m, "k", "worker", func(context.Context) (int, error) {
		time.Sleep(100 * time.Millisecond) // several TTLs long
		if !m.IsLocked("k") {
			return 0, errors.New("lease expired mid-operation")
		}
		return 1, nil
	}, WithLockTimeout(30*time.Millisecond), WithMaxRetries(1))
	if err != nil {
		t.Fatalf("withlock: %v", err)
	}
}

func TestWithLockBackoffHonorsContext(t *testing.T) {
	m := lock.New(lock.WithSweepInterval(0))
	defer m.Close()

	m.Acquire(context.Background(), "k", "other", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := WithLock(ctx, m, "k", "worker", func(context.Context) (int, error) {
		return 0, nil
	}, WithRetryDelay(time.Second))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("backoff did not respect context cancellation")
	}
}
