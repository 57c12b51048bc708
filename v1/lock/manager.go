package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/reconcilehq/go-coord/v1/lock")

const (
	// defaultTimeout is the lease TTL applied when none is configured.
	defaultTimeout = 30 * time.Second
	// defaultSweepInterval is the default period for evicting expired
	// leases. The sweep only bounds memory; correctness never depends on
	// its timing because every read path checks expiry itself.
	defaultSweepInterval = time.Minute
)

// Lease is a time-bounded exclusive claim on a resource key. Callers receive
// copies; the manager exclusively owns the stored records.
type Lease struct {
	ID         string
	Resource   string
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Metadata   map[string]string
}

// Manager grants, renews and releases leases over resource keys. At most one
// non-expired lease exists per resource at any time.
type Manager struct {
	mu      sync.Mutex
	leases  map[string]Lease
	timeout time.Duration

	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	closeOnce     sync.Once

	acquiredCounter  prometheus.Counter
	contendedCounter prometheus.Counter
	releasedCounter  prometheus.Counter
	expiredCounter   prometheus.Counter
	heldGauge        prometheus.Gauge
	traceEnabled     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the TTL applied to new leases. A zero or negative
// duration keeps the default of 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithSweepInterval sets the interval at which expired leases are evicted.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.sweepInterval = d
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.acquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_lock_acquired_total",
			Help: "Total number of leases granted",
		})
		m.contendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_lock_contended_total",
			Help: "Total number of acquisitions denied by a held lease",
		})
		m.releasedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_lock_released_total",
			Help: "Total number of leases released",
		})
		m.expiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_lock_expired_total",
			Help: "Total number of leases evicted after expiry",
		})
		m.heldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coord_lock_held",
			Help: "Current number of held leases",
		})
		reg.MustRegister(m.acquiredCounter, m.contendedCounter, m.releasedCounter, m.expiredCounter, m.heldGauge)
	}
}

// WithTracing enables OpenTelemetry tracing for lock operations.
func WithTracing() Option {
	return func(m *Manager) {
		m.traceEnabled = true
	}
}

// New returns a new Manager.
//
// Unless disabled via WithSweepInterval, a background goroutine periodically
// removes expired leases. Close must be called to stop it.
func New(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		leases:        make(map[string]Lease),
		timeout:       defaultTimeout,
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval > 0 {
		m.wg.Add(1)
		go m.sweeper()
	}
	return m
}

// valid reports whether l is still live at now. It is the single expiry
// predicate shared by read paths and the sweeper.
func valid(l Lease, now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// evictLocked removes an expired lease. Caller holds m.mu.
func (m *Manager) evictLocked(resource string) {
	delete(m.leases, resource)
	if m.expiredCounter != nil {
		m.expiredCounter.Inc()
	}
	if m.heldGauge != nil {
		m.heldGauge.Dec()
	}
}

// Acquire grants a lease on resource to owner. It returns the lease id and
// true on success, or "" and false when a non-expired lease already exists.
// Contention is a normal outcome, not an error. An expired lease found in
// the slot is evicted and overwritten.
func (m *Manager) Acquire(ctx context.Context, resource, owner string, meta map[string]string) (string, bool) {
	var span trace.Span
	if m.traceEnabled {
		_, span = tracer.Start(ctx, "Lock.Acquire")
		defer span.End()
		span.SetAttributes(attribute.String("coord.lock.resource", resource))
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.leases[resource]; ok {
		if valid(cur, now) {
			if m.contendedCounter != nil {
				m.contendedCounter.Inc()
			}
			if m.traceEnabled {
				span.SetAttributes(attribute.String("coord.lock.result", "contended"))
			}
			return "", false
		}
		m.evictLocked(resource)
	}

	l := Lease{
		ID:         uuid.NewString(),
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.timeout),
	}
	if len(meta) > 0 {
		l.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			l.Metadata[k] = v
		}
	}
	m.leases[resource] = l
	if m.acquiredCounter != nil {
		m.acquiredCounter.Inc()
	}
	if m.heldGauge != nil {
		m.heldGauge.Inc()
	}
	if m.traceEnabled {
		span.SetAttributes(attribute.String("coord.lock.result", "acquired"))
	}
	return l.ID, true
}

// Release removes the lease on resource if leaseID matches the stored id.
// It returns false when no lease is present or the id does not match; both
// are normal outcomes.
func (m *Manager) Release(resource, leaseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[resource]
	if !ok || cur.ID != leaseID {
		return false
	}
	delete(m.leases, resource)
	if m.releasedCounter != nil {
		m.releasedCounter.Inc()
	}
	if m.heldGauge != nil {
		m.heldGauge.Dec()
	}
	return true
}

// IsLocked reports whether a non-expired lease exists for resource. An
// expired lease found along the way is evicted.
func (m *Manager) IsLocked(resource string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[resource]
	if !ok {
		return false
	}
	if !valid(cur, now) {
		m.evictLocked(resource)
		return false
	}
	return true
}

// Info returns a copy of the lease currently held on resource. The boolean
// is false when no live lease exists. Expired leases are evicted as in
// IsLocked.
func (m *Manager) Info(resource string) (Lease, bool) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[resource]
	if !ok {
		return Lease{}, false
	}
	if !valid(cur, now) {
		m.evictLocked(resource)
		return Lease{}, false
	}
	return copyLease(cur), true
}

// Extend resets the lease expiry to now+d when leaseID matches. A zero or
// negative d uses the manager's configured timeout. The reset is absolute,
// not additive.
func (m *Manager) Extend(resource, leaseID string, d time.Duration) bool {
	if d <= 0 {
		d = m.timeout
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[resource]
	if !ok || cur.ID != leaseID {
		return false
	}
	cur.ExpiresAt = now.Add(d)
	m.leases[resource] = cur
	return true
}

// ForceRelease removes whatever lease holds resource regardless of id. It is
// an operator escape hatch that bypasses the mutual-exclusion contract and
// must not be used for normal flow control.
func (m *Manager) ForceRelease(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leases[resource]; !ok {
		return false
	}
	delete(m.leases, resource)
	if m.releasedCounter != nil {
		m.releasedCounter.Inc()
	}
	if m.heldGauge != nil {
		m.heldGauge.Dec()
	}
	return true
}

// Active returns copies of all non-expired leases, evicting expired ones
// found along the way.
func (m *Manager) Active() []Lease {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lease, 0, len(m.leases))
	for resource, cur := range m.leases {
		if !valid(cur, now) {
			m.evictLocked(resource)
			continue
		}
		out = append(out, copyLease(cur))
	}
	return out
}

// sweeper periodically evicts expired leases so that resources which are
// never queried again do not accumulate.
func (m *Manager) sweeper() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for resource, cur := range m.leases {
				if !valid(cur, now) {
					m.evictLocked(resource)
				}
			}
			m.mu.Unlock()
		case <-m.ctx.Done():
			return
		}
	}
}

// Close stops the background sweeper and clears all leases. The manager must
// not be used afterward. Close is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		m.mu.Lock()
		m.leases = make(map[string]Lease)
		if m.heldGauge != nil {
			m.heldGauge.Set(0)
		}
		m.mu.Unlock()
	})
}

func copyLease(l Lease) Lease {
	if l.Metadata != nil {
		meta := make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			meta[k] = v
		}
		l.Metadata = meta
	}
	return l
}
