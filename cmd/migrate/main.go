// The migrate command applies the descriptor-generated schema: one table
// and one embedding table per registered model, plus the durable KV
// tables on postgres. Safe to re-run.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/S-Corkum/remstore/internal/bootstrap"
	"github.com/S-Corkum/remstore/pkg/config"
	"github.com/S-Corkum/remstore/pkg/observability"
)

func main() {
	dsn := flag.String("dsn", "", "database DSN (defaults to configured database.dsn)")
	driver := flag.String("driver", "", "database driver (defaults to configured database.driver)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Parse()

	logger := observability.NewStandardLogger("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", map[string]interface{}{"error": err.Error()})
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deps, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = deps.Close() }()

	if err := deps.EnsureSchema(ctx); err != nil {
		logger.Fatal("migration failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("schema up to date", map[string]interface{}{
		"driver": cfg.Database.Driver,
	})
}
