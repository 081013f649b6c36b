// Package bootstrap wires process configuration into the shared
// dependency graph used by the worker and dreamer commands.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/S-Corkum/remstore/pkg/config"
	"github.com/S-Corkum/remstore/pkg/embedding"
	"github.com/S-Corkum/remstore/pkg/kv"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/repository"
	"github.com/S-Corkum/remstore/pkg/storage"

	// Dialect registration
	_ "github.com/S-Corkum/remstore/pkg/storage/mysql"
	_ "github.com/S-Corkum/remstore/pkg/storage/postgres"
)

// Deps is the shared dependency graph of one process
type Deps struct {
	Config     *config.Config
	Provider   storage.Provider
	Pool       *storage.Pool
	Redis      *redis.Client
	KV         *kv.DualStore
	Embeddings *embedding.Service
	Logger     observability.Logger
}

// New connects everything the configuration names. The provider registry
// freezes here; no dialect registers after process start.
func New(ctx context.Context, cfg *config.Config, logger observability.Logger) (*Deps, error) {
	if logger == nil {
		logger = observability.NewStandardLogger("remstore")
	}
	storage.Freeze()

	storageCfg := storage.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxUsagePerConn: int64(cfg.Database.MaxUsage),
		MaxLifetime:     int(cfg.Database.MaxLifetime.Seconds()),
		PingOnBorrow:    cfg.Database.PingOnBorrow,
	}
	provider, err := storage.NewProvider(cfg.Database.Driver, storageCfg)
	if err != nil {
		return nil, err
	}
	pool, err := provider.Connect(ctx)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	kvStore := kv.NewDualStore(pool.DB(), redisClient, logger)

	embeddings := buildEmbeddings(cfg, logger)

	return &Deps{
		Config:     cfg,
		Provider:   provider,
		Pool:       pool,
		Redis:      redisClient,
		KV:         kvStore,
		Embeddings: embeddings,
		Logger:     logger,
	}, nil
}

// buildEmbeddings resolves the configured provider behind a circuit
// breaker. An unresolvable provider degrades to an unavailable service;
// semantic operations surface Dependency, everything else proceeds.
func buildEmbeddings(cfg *config.Config, logger observability.Logger) *embedding.Service {
	provider, err := embedding.Resolve(cfg.Embedding.Provider, embedding.Config{
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		logger.Warn("embedding provider unavailable", map[string]interface{}{
			"provider": cfg.Embedding.Provider,
			"error":    err.Error(),
		})
		return embedding.NewService(nil, logger)
	}
	return embedding.NewService(embedding.NewBreakerProvider(provider, logger), logger)
}

// Repository builds a tenant-scoped repository over one model table
func (d *Deps) Repository(tenantID string, desc models.ModelDescriptor) (*repository.TenantRepository, error) {
	return repository.New(tenantID, desc, d.Provider, d.Pool, d.KV, d.Embeddings, d.Logger)
}

// EnsureSchema applies descriptor-generated DDL for every registered
// model plus the KV durable tables. Idempotent.
func (d *Deps) EnsureSchema(ctx context.Context) error {
	db := d.Pool.DB()
	for _, desc := range models.AllDescriptors() {
		if _, err := db.ExecContext(ctx, d.Provider.CreateTableSQL(desc)); err != nil {
			return fmt.Errorf("create table %s: %w", desc.QualifiedTable(), err)
		}
		if _, err := db.ExecContext(ctx, d.Provider.CreateEmbeddingTableSQL(desc)); err != nil {
			return fmt.Errorf("create embedding table for %s: %w", desc.QualifiedTable(), err)
		}
	}
	if d.Provider.DialectName() == "postgres" {
		if _, err := db.ExecContext(ctx, kv.CreateTableSQL); err != nil {
			return fmt.Errorf("create kv table: %w", err)
		}
		if _, err := db.ExecContext(ctx, kv.CreateEntityIndexSQL); err != nil {
			return fmt.Errorf("create entity index table: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool and the redis client
func (d *Deps) Close() error {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("redis close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return d.Pool.Close()
}
