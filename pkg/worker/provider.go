package worker

import (
	"context"
	"path"
	"strings"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/queue"
)

// ObjectFetcher retrieves the raw bytes behind a storage path
type ObjectFetcher interface {
	Fetch(ctx context.Context, objectPath string) ([]byte, error)
}

// ContentProvider turns a fetched object into indexable text. Providers
// are matched by file extension or declared media type; when none
// matches, ingestion records the File row only and skips chunking.
type ContentProvider interface {
	Name() string
	Supports(p queue.EventPath, contentType string) bool
	Extract(ctx context.Context, event queue.StorageEvent, payload []byte) (string, models.JSONMap, error)
}

// ProviderRegistry resolves a content provider for an event. First match
// wins, in registration order.
type ProviderRegistry struct {
	providers []ContentProvider
}

// NewProviderRegistry builds a registry over the given providers
func NewProviderRegistry(providers ...ContentProvider) *ProviderRegistry {
	return &ProviderRegistry{providers: providers}
}

// Register appends a provider
func (r *ProviderRegistry) Register(p ContentProvider) {
	r.providers = append(r.providers, p)
}

// Resolve returns the first provider that supports the path, or nil
func (r *ProviderRegistry) Resolve(p queue.EventPath, contentType string) ContentProvider {
	for _, provider := range r.providers {
		if provider.Supports(p, contentType) {
			return provider
		}
	}
	return nil
}

// PlainTextProvider handles text-bearing files whose bytes are already
// the content: notes, markdown, logs, transcripts.
type PlainTextProvider struct{}

var plainTextExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
	".log":      true,
	".csv":      true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
}

// Name implements ContentProvider
func (PlainTextProvider) Name() string { return "plain_text" }

// Supports implements ContentProvider
func (PlainTextProvider) Supports(p queue.EventPath, contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	ext := strings.ToLower(path.Ext(p.FilePath))
	return plainTextExtensions[ext]
}

// Extract implements ContentProvider
func (PlainTextProvider) Extract(_ context.Context, _ queue.StorageEvent, payload []byte) (string, models.JSONMap, error) {
	return string(payload), models.JSONMap{"provider": "plain_text"}, nil
}
