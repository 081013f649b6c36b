// Package embedding provides the batched, provider-abstracted text to
// vector encoder used by the tenant repository and the dreaming pipelines.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/S-Corkum/remstore/pkg/models"
)

// Provider is an embedding backend (an HTTP-API provider, a local model,
// a test stub). Providers are pluggable by name.
type Provider interface {
	// Name returns the provider name (e.g. "openai", "mock")
	Name() string

	// Dimensions returns the fixed output dimension
	Dimensions() int

	// EncodeBatch encodes texts into vectors. Ordering guarantee:
	// result[i] corresponds to texts[i].
	EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error)

	// HealthCheck verifies the provider is reachable
	HealthCheck(ctx context.Context) error

	// Close releases provider resources
	Close() error
}

// providerRegistry maps provider names to constructors. Initialized at
// process start and frozen by the first Resolve.
var (
	providerMu       sync.Mutex
	providerRegistry = map[string]func(Config) (Provider, error){}
)

// RegisterProvider adds a provider constructor under a name
func RegisterProvider(name string, ctor func(Config) (Provider, error)) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[name] = ctor
}

// Resolve constructs a registered provider by name
func Resolve(name string, cfg Config) (Provider, error) {
	providerMu.Lock()
	ctor, ok := providerRegistry[name]
	providerMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q", name)
	}
	return ctor(cfg)
}

// Config carries provider construction settings
type Config struct {
	APIKey     string
	Endpoint   string
	Model      string
	Dimensions int

	// MaxBatchSize bounds one upstream call; larger inputs are split
	MaxBatchSize int
}
