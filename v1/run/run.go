package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reconcilehq/go-coord/v1/lock"
)

var (
	// ErrAcquireExhausted is returned when the lease could not be acquired
	// within the retry budget. The resource was contended the whole time.
	ErrAcquireExhausted = errors.New("coord: lock acquisition exhausted")

	// ErrRunExhausted is returned when the operation kept failing until the
	// retry budget ran out. It wraps the last underlying error.
	ErrRunExhausted = errors.New("coord: operation failed")
)

const (
	defaultLockTimeout = 30 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
)

type options struct {
	lockTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

// Option configures WithLock.
type Option func(*options)

// WithLockTimeout sets the lease TTL requested on each extension while the
// operation runs. Defaults to 30 seconds.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithMaxRetries sets the attempt budget shared by acquisition and
// operation retries. Defaults to 3.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base backoff delay. Attempt n waits
// delay * 2^(n-1). Defaults to one second.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithLock acquires a lease on resource, runs op, and releases the lease
// before returning. The whole acquire-then-run sequence is retried with
// exponential backoff when the lease is contended or op fails, up to the
// configured budget. The lease is held across op (that is the point of the
// lock) but never across a backoff sleep, and a renewal goroutine keeps it
// alive while op is pending so long-running work does not outlive its TTL.
//
// Two terminal failures are distinguished: ErrAcquireExhausted when the
// lease was never obtained, and ErrRunExhausted (wrapping the last error)
// when op kept failing.
func WithLock[T any](ctx context.Context, m *lock.Manager, resource, owner string, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	o := options{
		lockTimeout: defaultLockTimeout,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		leaseID, ok := m.Acquire(ctx, resource, owner, nil)
		if !ok {
			if attempt == o.maxRetries {
				return zero, fmt.Errorf("%w: resource %q after %d attempts", ErrAcquireExhausted, resource, o.maxRetries)
			}
			if err := backoff(ctx, o.retryDelay, attempt); err != nil {
				return zero, err
			}
			continue
		}

		result, err := runHeld(ctx, m, resource, leaseID, o.lockTimeout, op)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == o.maxRetries {
			break
		}
		if berr := backoff(ctx, o.retryDelay, attempt); berr != nil {
			return zero, berr
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRunExhausted, o.maxRetries, lastErr)
}

// runHeld executes op while holding the lease, renewing it in the background
// and releasing it on every exit path.
func runHeld[T any](ctx context.Context, m *lock.Manager, resource, leaseID string, ttl time.Duration, op func(context.Context) (T, error)) (T, error) {
	done := make(chan struct{})
	defer func() {
		close(done)
		m.Release(resource, leaseID)
	}()

	// Proactive renewal: reset the TTL at half-life until op settles.
	interval := ttl / 2
	if interval <= 0 {
		interval = ttl
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.Extend(resource, leaseID, ttl) {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return op(ctx)
}

// backoff sleeps for delay * 2^(attempt-1), honoring ctx cancellation.
func backoff(ctx context.Context, delay time.Duration, attempt int) error {
	d := delay << (attempt - 1)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
