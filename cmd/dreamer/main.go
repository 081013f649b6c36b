// The dreamer command runs the per-tenant enrichment pipelines on a
// fixed interval: moments, affinity, entity extraction, the rolling
// user summary, and the digest email.
package main

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/S-Corkum/remstore/internal/bootstrap"
	"github.com/S-Corkum/remstore/pkg/config"
	"github.com/S-Corkum/remstore/pkg/dreaming"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

func main() {
	logger := observability.NewStandardLogger("dreamer")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", map[string]interface{}{"error": err.Error()})
	}
	if !cfg.Dreaming.Enabled {
		logger.Info("dreaming disabled, exiting", nil)
		return
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

	llm, err := dreaming.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	if err != nil {
		logger.Fatal("llm init failed", map[string]interface{}{"error": err.Error()})
	}

	var email dreaming.EmailSender
	if cfg.Email.Enabled {
		var auth smtp.Auth
		if user := os.Getenv("REMSTORE_SMTP_USER"); user != "" {
			host := cfg.Email.SMTPAddr
			if i := strings.IndexByte(host, ':'); i >= 0 {
				host = host[:i]
			}
			auth = smtp.PlainAuth("", user, os.Getenv("REMSTORE_SMTP_PASSWORD"), host)
		}
		email = &dreaming.SMTPSender{Addr: cfg.Email.SMTPAddr, From: cfg.Email.From, Auth: auth}
	}

	stores := func(tenantID string, desc models.ModelDescriptor) (dreaming.Store, error) {
		return deps.Repository(tenantID, desc)
	}
	dreamer := dreaming.NewDreamer(
		stores,
		deps.KV,
		llm,
		dreaming.NewLimiterPool(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst),
		email,
		dreaming.Config{
			Lookback:      cfg.Dreaming.Lookback,
			LeaseTTL:      cfg.Dreaming.LeaseTTL,
			ContextTokens: cfg.Dreaming.ContextTokens,
			MaxRecords:    cfg.Dreaming.MaxRecords,
			Affinity: dreaming.AffinityConfig{
				TopK:         cfg.Dreaming.AffinityTopK,
				Threshold:    cfg.Dreaming.AffinityThreshold,
				UseLLM:       cfg.Dreaming.AffinityUseLLM,
				LLMThreshold: cfg.Dreaming.AffinityLLMThreshold,
			},
			SkipMoments:    cfg.Dreaming.SkipMoments,
			SkipAffinity:   cfg.Dreaming.SkipAffinity,
			SkipEntities:   cfg.Dreaming.SkipEntities,
			SkipSummary:    cfg.Dreaming.SkipSummary,
			EmailEnabled:   cfg.Email.Enabled,
			EmailRecipient: cfg.Email.RecipientOverride,
		},
		logger,
	)

	interval := cfg.Dreaming.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger.Info("dreamer started", map[string]interface{}{
		"interval": interval.String(),
		"model":    llm.Model(),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	runAll(ctx, deps, dreamer, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("dreamer stopped", nil)
			return
		case <-ticker.C:
			runAll(ctx, deps, dreamer, logger)
		}
	}
}

// runAll dreams every known tenant once. One tenant's failure does not
// stop the sweep.
func runAll(ctx context.Context, deps *bootstrap.Deps, dreamer *dreaming.Dreamer, logger observability.Logger) {
	tenantIDs, err := listTenants(ctx, deps)
	if err != nil {
		logger.Error("tenant listing failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}
		job, err := dreamer.RunTenant(ctx, tenantID)
		if err != nil {
			logger.Error("dreaming run failed", map[string]interface{}{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
			continue
		}
		if job == nil {
			continue // lease held elsewhere
		}
		logger.Info("dreaming run finished", map[string]interface{}{
			"tenant_id": tenantID,
			"job_id":    job.ID,
			"status":    job.Status,
		})
	}
}

func listTenants(ctx context.Context, deps *bootstrap.Deps) ([]string, error) {
	rows, err := deps.Pool.Execute(ctx,
		fmt.Sprintf("SELECT id FROM %s ORDER BY id", models.TenantDescriptor.QualifiedTable()))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		switch id := row["id"].(type) {
		case string:
			ids = append(ids, id)
		case []byte:
			ids = append(ids, string(id))
		}
	}
	return ids, nil
}
