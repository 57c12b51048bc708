package queue

import (
	"errors"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/reconcilehq/go-coord/v1/metrics"
)

// ErrQueueFull is returned by Add when the backlog is at capacity. It signals
// backpressure: the producer decides whether to drop, block or surface it.
var ErrQueueFull = errors.New("coord: queue is full")

const (
	// DefaultMaxSize bounds the backlog.
	DefaultMaxSize = 1000
	// DefaultMaxConcurrent is the batch size used when NextBatch is called
	// without an explicit limit.
	DefaultMaxConcurrent = 3
	// DefaultMaxRetries is the retry budget applied when Add receives a
	// negative value.
	DefaultMaxRetries = 3
)

// Item is a unit of work held by the queue.
type Item struct {
	ID         string
	Kind       string
	Payload    any
	Priority   int
	CreatedAt  time.Time
	RetryCount int
	MaxRetries int
}

// Status is a point-in-time snapshot of queue occupancy.
type Status struct {
	Pending    int
	Processing int
	Total      int
	// OldestAge is the waiting time of the backlog head, zero when the
	// backlog is empty.
	OldestAge time.Duration
}

// Queue is a priority-ordered backlog with an in-flight set. At any instant
// an item id is present in at most one of the two.
type Queue struct {
	mu            sync.Mutex
	backlog       []Item
	inflight      map[string]Item
	maxSize       int
	maxConcurrent int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize sets the backlog capacity. Non-positive values keep the
// default of 1000.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithMaxConcurrent sets the default batch size for NextBatch.
func WithMaxConcurrent(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxConcurrent = n
		}
	}
}

// New returns a new Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		inflight:      make(map[string]Item),
		maxSize:       DefaultMaxSize,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add inserts a new item and returns its id. Insertion is stable: the item
// lands before the first backlog entry with strictly lower priority, so
// same-priority items stay FIFO among themselves. A negative maxRetries
// selects the default budget of 3. Add fails with ErrQueueFull at capacity
// without mutating the backlog.
func (q *Queue) Add(kind string, payload any, priority, maxRetries int) (string, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	it := Item{
		ID:         id,
		Kind:       kind,
		Payload:    payload,
		Priority:   priority,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) >= q.maxSize {
		return "", ErrQueueFull
	}
	pos := len(q.backlog)
	for i, cur := range q.backlog {
		if cur.Priority < it.Priority {
			pos = i
			break
		}
	}
	q.backlog = append(q.backlog, Item{})
	copy(q.backlog[pos+1:], q.backlog[pos:])
	q.backlog[pos] = it
	metrics.EnqueueCounter.Inc()
	return id, nil
}

// NextBatch moves up to n items from the front of the backlog into the
// in-flight set and returns them in backlog order. A non-positive n uses the
// configured default. Items already in flight are never handed out twice, so
// the call is safe to repeat.
func (q *Queue) NextBatch(n int) []Item {
	if n <= 0 {
		n = q.maxConcurrent
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]Item, 0, n)
	rest := q.backlog[:0]
	for _, it := range q.backlog {
		if len(batch) < n {
			if _, busy := q.inflight[it.ID]; !busy {
				q.inflight[it.ID] = it
				batch = append(batch, it)
				continue
			}
		}
		rest = append(rest, it)
	}
	// Clear trailing slots so dropped entries do not retain payloads.
	for i := len(rest); i < len(q.backlog); i++ {
		q.backlog[i] = Item{}
	}
	q.backlog = rest
	metrics.InFlightGauge.Set(float64(len(q.inflight)))
	return batch
}

// Complete settles an in-flight item. On success the item is dropped. On
// failure with retries remaining, the item re-enters the backlog at the back
// with retryCount+1 and priority decayed by one (floored at zero) so a
// chronically failing item cannot monopolize the front of the queue. Once
// retries are exhausted the item is dropped permanently; surfacing that
// event is the consumer's responsibility. Unknown ids are a no-op.
func (q *Queue) Complete(id string, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.inflight[id]
	if !ok {
		return
	}
	delete(q.inflight, id)
	metrics.InFlightGauge.Set(float64(len(q.inflight)))
	if success {
		return
	}
	if it.RetryCount >= it.MaxRetries {
		metrics.DropCounter.Inc()
		return
	}
	it.RetryCount++
	if it.Priority > 0 {
		it.Priority--
	}
	q.backlog = append(q.backlog, it)
	metrics.RetryCounter.Inc()
}

// Remove deletes the item from whichever set holds it and reports whether it
// was found.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; ok {
		delete(q.inflight, id)
		metrics.InFlightGauge.Set(float64(len(q.inflight)))
		return true
	}
	for i, it := range q.backlog {
		if it.ID == id {
			copy(q.backlog[i:], q.backlog[i+1:])
			q.backlog[len(q.backlog)-1] = Item{}
			q.backlog = q.backlog[:len(q.backlog)-1]
			return true
		}
	}
	return false
}

// Status reports current occupancy.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Status{
		Pending:    len(q.backlog),
		Processing: len(q.inflight),
		Total:      len(q.backlog) + len(q.inflight),
	}
	if len(q.backlog) > 0 {
		s.OldestAge = time.Since(q.backlog[0].CreatedAt)
	}
	return s
}

// Clear empties both the backlog and the in-flight set unconditionally.
// In-flight consumers are not notified; this is an operator escape hatch.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backlog = nil
	q.inflight = make(map[string]Item)
	metrics.InFlightGauge.Set(0)
}
