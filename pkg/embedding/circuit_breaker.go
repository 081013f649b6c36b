package embedding

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

// BreakerProvider wraps a Provider with a circuit breaker. A tripped
// breaker fails fast so the repository degrades to rows without
// embeddings instead of stalling on a sick backend.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewBreakerProvider wraps the provider with failure tripping
func NewBreakerProvider(inner Provider, logger observability.Logger) *BreakerProvider {
	if logger == nil {
		logger = observability.NewStandardLogger("embedding.breaker")
	}
	bp := &BreakerProvider{inner: inner, logger: logger}
	bp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-" + inner.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return bp
}

// Name implements Provider
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// Dimensions implements Provider
func (p *BreakerProvider) Dimensions() int { return p.inner.Dimensions() }

// EncodeBatch implements Provider
func (p *BreakerProvider) EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.EncodeBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Vector), nil
}

// HealthCheck implements Provider
func (p *BreakerProvider) HealthCheck(ctx context.Context) error {
	return p.inner.HealthCheck(ctx)
}

// Close implements Provider
func (p *BreakerProvider) Close() error { return p.inner.Close() }
