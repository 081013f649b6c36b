package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/S-Corkum/remstore/pkg/models"
)

// MockProvider produces deterministic unit-length vectors derived from the
// input text. Used by tests and local development.
type MockProvider struct {
	dims int
}

// NewMockProvider creates a MockProvider
func NewMockProvider(cfg Config) (Provider, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 8
	}
	return &MockProvider{dims: dims}, nil
}

func init() {
	RegisterProvider("mock", NewMockProvider)
}

// Name implements Provider
func (p *MockProvider) Name() string { return "mock" }

// Dimensions implements Provider
func (p *MockProvider) Dimensions() int { return p.dims }

// EncodeBatch implements Provider
func (p *MockProvider) EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	out := make([]models.Vector, len(texts))
	for i, t := range texts {
		out[i] = p.encode(t)
	}
	return out, nil
}

func (p *MockProvider) encode(text string) models.Vector {
	sum := sha256.Sum256([]byte(text))
	vec := make(models.Vector, p.dims)
	var norm float64
	for i := 0; i < p.dims; i++ {
		// Stretch the digest across the requested dimension
		off := (i * 4) % (len(sum) - 4)
		u := binary.BigEndian.Uint32(sum[off : off+4])
		v := float32(u%1000)/500.0 - 1.0
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// HealthCheck implements Provider
func (p *MockProvider) HealthCheck(ctx context.Context) error { return nil }

// Close implements Provider
func (p *MockProvider) Close() error { return nil }
