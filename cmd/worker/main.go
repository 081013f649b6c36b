// The worker command consumes storage events and materializes File and
// Resource rows, chunked and embedded, for its tenants.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/S-Corkum/remstore/internal/bootstrap"
	"github.com/S-Corkum/remstore/pkg/chunking/text"
	"github.com/S-Corkum/remstore/pkg/config"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/queue"
	"github.com/S-Corkum/remstore/pkg/tokenizer"
	"github.com/S-Corkum/remstore/pkg/worker"
)

func main() {
	logger := observability.NewStandardLogger("worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = deps.Close() }()

	if err := deps.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema bootstrap failed", map[string]interface{}{"error": err.Error()})
	}

	q := queue.NewTenantFairQueue(cfg.Queue.Capacity, logger)

	stores := func(tenantID string, desc models.ModelDescriptor) (worker.EntityStore, error) {
		return deps.Repository(tenantID, desc)
	}

	counter := tokenizer.NewSimpleTokenizer(0)
	splitter := text.NewSplitter(text.Config{
		ChunkSize:    cfg.Worker.ChunkSize,
		ChunkOverlap: cfg.Worker.ChunkOverlap,
		Length:       counter.CountTokens,
	})

	dataRoot := os.Getenv("REMSTORE_DATA_ROOT")
	if dataRoot == "" {
		dataRoot = "/data"
	}
	processor := worker.NewProcessor(
		stores,
		&worker.FSFetcher{Root: dataRoot},
		worker.NewProviderRegistry(worker.PlainTextProvider{}),
		splitter,
		logger,
	)

	var idem worker.IdempotencyStore
	if deps.Redis != nil {
		idem = worker.NewRedisIdempotency(deps.Redis)
	}
	sw := worker.NewStorageWorker(q, processor, idem, worker.Config{
		Concurrency:    cfg.Worker.Concurrency,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		InitialBackoff: cfg.Worker.InitialBackoff,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Queue.SQSURL != "" {
		src, err := queue.NewSQSClient(ctx, cfg.Queue.SQSURL)
		if err != nil {
			logger.Fatal("sqs init failed", map[string]interface{}{"error": err.Error()})
		}
		g.Go(func() error { return worker.Pump(ctx, src, q, logger) })
	} else {
		logger.Warn("no SQS queue configured; consuming in-memory queue only", nil)
	}
	g.Go(func() error { return sw.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		q.Close()
		return nil
	})

	logger.Info("worker started", map[string]interface{}{
		"concurrency": cfg.Worker.Concurrency,
		"queue_cap":   cfg.Queue.Capacity,
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("worker exited with error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("worker stopped", nil)
}
