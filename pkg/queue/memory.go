package queue

import (
	"context"
	"sync"
	"time"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/observability"
)

// DeadLetter is a rejected or exhausted event with its cause
type DeadLetter struct {
	Event StorageEvent `json:"event"`
	Cause string       `json:"cause"`
	At    time.Time    `json:"at"`
}

// TenantFairQueue is a bounded in-memory event queue that dequeues
// round-robin across tenants, so one tenant's burst cannot starve the
// others. Enqueue blocks when the queue is full (upstream backpressure).
type TenantFairQueue struct {
	mu       sync.Mutex
	notify   *sync.Cond
	capacity int
	size     int
	pending  map[string][]StorageEvent
	ring     []string
	cursor   int
	closed   bool
	dead     []DeadLetter
	logger   observability.Logger
}

// ErrQueueClosed is returned by operations on a closed queue
var ErrQueueClosed = commonerrors.Newf("queue", "TenantFairQueue", commonerrors.KindValidation, "queue is closed")

// NewTenantFairQueue creates a queue holding at most capacity in-flight
// events
func NewTenantFairQueue(capacity int, logger observability.Logger) *TenantFairQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = observability.NewStandardLogger("queue.memory")
	}
	q := &TenantFairQueue{
		capacity: capacity,
		pending:  make(map[string][]StorageEvent),
		logger:   logger,
	}
	q.notify = sync.NewCond(&q.mu)
	return q
}

// Enqueue validates the event and adds it under its tenant. Invalid
// events dead-letter immediately. A full queue blocks until space frees
// or the context ends.
func (q *TenantFairQueue) Enqueue(ctx context.Context, event StorageEvent) error {
	if err := event.Validate(); err != nil {
		q.AddDeadLetter(event, err)
		return err
	}
	p, _ := ParsePath(event.Path)

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notify.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size >= q.capacity && !q.closed && ctx.Err() == nil {
		q.notify.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(q.pending[p.TenantID]) == 0 {
		q.ring = append(q.ring, p.TenantID)
	}
	q.pending[p.TenantID] = append(q.pending[p.TenantID], event)
	q.size++
	q.notify.Broadcast()
	return nil
}

// Dequeue returns the next event, rotating across tenants. Blocks until
// an event arrives, the queue closes, or the context ends.
func (q *TenantFairQueue) Dequeue(ctx context.Context) (StorageEvent, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notify.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed && ctx.Err() == nil {
		q.notify.Wait()
	}
	if q.size == 0 {
		if q.closed {
			return StorageEvent{}, ErrQueueClosed
		}
		return StorageEvent{}, ctx.Err()
	}

	if q.cursor >= len(q.ring) {
		q.cursor = 0
	}
	tenant := q.ring[q.cursor]
	events := q.pending[tenant]
	event := events[0]

	if len(events) == 1 {
		delete(q.pending, tenant)
		q.ring = append(q.ring[:q.cursor], q.ring[q.cursor+1:]...)
		// cursor now points at the next tenant already
	} else {
		q.pending[tenant] = events[1:]
		q.cursor++
	}
	q.size--
	q.notify.Broadcast()
	return event, nil
}

// AddDeadLetter records an event that cannot be processed
func (q *TenantFairQueue) AddDeadLetter(event StorageEvent, cause error) {
	q.mu.Lock()
	q.dead = append(q.dead, DeadLetter{Event: event, Cause: cause.Error(), At: time.Now().UTC()})
	q.mu.Unlock()
	q.logger.Warn("event dead-lettered", map[string]interface{}{
		"path":       event.Path,
		"event_type": event.EventType,
		"cause":      cause.Error(),
	})
}

// DeadLetters returns a snapshot of the dead-letter list
func (q *TenantFairQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Len returns the number of queued events
func (q *TenantFairQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close wakes all blocked producers and consumers. Queued events drain;
// further enqueues fail.
func (q *TenantFairQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.notify.Broadcast()
	q.mu.Unlock()
}
