// Package worker consumes storage events and materializes them as File
// and Resource rows: fetch, extract, chunk, upsert. Events for the same
// file are serialized; distinct files process concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/queue"
)

const (
	defaultConcurrency = 4
	defaultMaxAttempts = 5
	idempotencyTTL     = 24 * time.Hour
)

// IdempotencyStore remembers which events already applied, so SQS
// at-least-once delivery does not reprocess them
type IdempotencyStore interface {
	Exists(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// redisIdempotency adapts a go-redis client to IdempotencyStore
type redisIdempotency struct {
	client *redis.Client
}

// NewRedisIdempotency wraps a redis client for event deduplication
func NewRedisIdempotency(client *redis.Client) IdempotencyStore {
	return &redisIdempotency{client: client}
}

func (r *redisIdempotency) Exists(ctx context.Context, key string) (int64, error) {
	return r.client.Exists(ctx, key).Result()
}

func (r *redisIdempotency) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Config tunes the storage worker
type Config struct {
	// Concurrency is the number of consumer goroutines
	Concurrency int
	// MaxAttempts bounds retries per event, including the first attempt
	MaxAttempts int
	// InitialBackoff is the first retry delay
	InitialBackoff time.Duration
}

// StorageWorker drains a tenant-fair queue through a Processor with
// retries, per-file serialization, and idempotency tracking. Events
// that exhaust their retries or fail permanently are dead-lettered and
// never halt the worker.
type StorageWorker struct {
	queue     *queue.TenantFairQueue
	processor *Processor
	idem      IdempotencyStore
	cfg       Config
	logger    observability.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStorageWorker builds a worker. idem may be nil, which disables
// deduplication.
func NewStorageWorker(q *queue.TenantFairQueue, processor *Processor, idem IdempotencyStore, cfg Config, logger observability.Logger) *StorageWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = observability.NewStandardLogger("worker.storage")
	}
	return &StorageWorker{
		queue:     q,
		processor: processor,
		idem:      idem,
		cfg:       cfg,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Run consumes events until the context ends or the queue closes
func (w *StorageWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	return g.Wait()
}

func (w *StorageWorker) consume(ctx context.Context) error {
	for {
		event, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// A poison event must not take the consumer down with it
		w.HandleEvent(ctx, event)
	}
}

// HandleEvent processes one event with retries, dead-lettering on
// permanent failure or retry exhaustion
func (w *StorageWorker) HandleEvent(ctx context.Context, event queue.StorageEvent) {
	path, err := queue.ParsePath(event.Path)
	if err != nil {
		w.queue.AddDeadLetter(event, err)
		return
	}
	fileID := models.FileID(path.TenantID, event.Path)
	key := eventKey(fileID, event)

	if w.seen(ctx, key) {
		w.logger.Debug("event already applied", map[string]interface{}{
			"path": event.Path,
			"key":  key,
		})
		return
	}

	unlock := w.lockFile(fileID)
	defer unlock()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(w.cfg.InitialBackoff)),
			uint64(w.cfg.MaxAttempts-1),
		), ctx)

	err = backoff.Retry(func() error {
		err := w.processor.Process(ctx, event)
		if err != nil && !commonerrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		w.queue.AddDeadLetter(event, err)
		w.logger.Error("event processing failed", map[string]interface{}{
			"path":       event.Path,
			"event_type": event.EventType,
			"error":      err.Error(),
		})
		return
	}
	w.markSeen(ctx, key)
}

// lockFile serializes processing per file id. Locks are kept for the
// worker's lifetime; the map is bounded by the set of files seen.
func (w *StorageWorker) lockFile(fileID string) func() {
	w.mu.Lock()
	l, ok := w.locks[fileID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[fileID] = l
	}
	w.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (w *StorageWorker) seen(ctx context.Context, key string) bool {
	if w.idem == nil {
		return false
	}
	n, err := w.idem.Exists(ctx, key)
	if err != nil {
		// Deduplication is an optimization; processing is idempotent
		return false
	}
	return n > 0
}

func (w *StorageWorker) markSeen(ctx context.Context, key string) {
	if w.idem == nil {
		return
	}
	if err := w.idem.Set(ctx, key, "1", idempotencyTTL); err != nil {
		w.logger.Warn("idempotency write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// eventKey identifies one version of one file. The etag is preferred;
// events without one fall back to the timestamp.
func eventKey(fileID string, event queue.StorageEvent) string {
	version := event.ETag
	if version == "" {
		version = fmt.Sprintf("%.3f", event.Timestamp)
	}
	return fmt.Sprintf("storage:event:%s:%s:%s", fileID, event.EventType, version)
}

// Pump moves events from SQS into the in-memory tenant-fair queue.
// Messages are deleted once enqueued; invalid events dead-letter during
// enqueue and are deleted too, so they stop redelivering.
func Pump(ctx context.Context, src *queue.SQSClient, dst *queue.TenantFairQueue, logger observability.Logger) error {
	if logger == nil {
		logger = observability.NewStandardLogger("worker.pump")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		events, receipts, err := src.ReceiveEvents(ctx, 10, 20)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("receive failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}
		for i, event := range events {
			err := dst.Enqueue(ctx, event)
			if err != nil && !commonerrors.IsValidation(err) {
				// Queue closed or context done; leave the message for redelivery
				return nil
			}
			if err := src.DeleteMessage(ctx, receipts[i]); err != nil {
				logger.Warn("delete failed", map[string]interface{}{
					"receipt": receipts[i],
					"error":   err.Error(),
				})
			}
		}
	}
}
