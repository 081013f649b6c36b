package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

// Service is the batched encoder over a configured provider. When no
// provider is configured every call fails with a Dependency error so
// callers can skip embedding rather than abort.
type Service struct {
	provider Provider
	cache    *lru.Cache[string, models.Vector]
	logger   observability.Logger
}

// cacheSize bounds the content-hash result cache
const cacheSize = 4096

// NewService creates a Service. The provider may be nil.
func NewService(provider Provider, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewStandardLogger("embedding.service")
	}
	cache, _ := lru.New[string, models.Vector](cacheSize)
	return &Service{
		provider: provider,
		cache:    cache,
		logger:   logger,
	}
}

// Available reports whether a provider is configured
func (s *Service) Available() bool {
	return s.provider != nil
}

// Dimensions returns the provider's output dimension, or 0 without one
func (s *Service) Dimensions() int {
	if s.provider == nil {
		return 0
	}
	return s.provider.Dimensions()
}

// ProviderName returns the configured provider name, or ""
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// Encode encodes a single text
func (s *Service) Encode(ctx context.Context, text string) (models.Vector, error) {
	vecs, err := s.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch encodes texts preserving input order: result[i] corresponds
// to texts[i]. Cached hits are served without an upstream call.
func (s *Service) EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	if s.provider == nil {
		return nil, commonerrors.New("embedding", "EncodeBatch",
			commonerrors.KindDependency, commonerrors.ErrNoEmbeddingProvider)
	}

	out := make([]models.Vector, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := s.cache.Get(ContentHash(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vecs, err := s.provider.EncodeBatch(ctx, missing)
		if err != nil {
			return nil, commonerrors.New("embedding", "EncodeBatch", commonerrors.KindDependency, err)
		}
		if len(vecs) != len(missing) {
			return nil, commonerrors.Newf("embedding", "EncodeBatch", commonerrors.KindInternal,
				"provider returned %d vectors for %d texts", len(vecs), len(missing))
		}
		for j, v := range vecs {
			out[missingIdx[j]] = v
			s.cache.Add(ContentHash(missing[j]), v)
		}
	}
	return out, nil
}

// ContentHash is the change-detection hash shared with the repository's
// embedding upsert policy
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
