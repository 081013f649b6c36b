package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/S-Corkum/remstore/pkg/chunking"
	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/queue"
)

// EntityStore is the slice of the tenant repository ingestion writes
// through
type EntityStore interface {
	UpsertEntities(ctx context.Context, entities []models.Entity) error
	Get(ctx context.Context, id string, dest interface{}) error
	Delete(ctx context.Context, id string) (bool, error)
}

// StoreFactory yields a tenant-scoped store for one model table
type StoreFactory func(tenantID string, desc models.ModelDescriptor) (EntityStore, error)

// ChunkSplitter splits extracted text into ordered chunks
type ChunkSplitter interface {
	Chunk(ctx context.Context, text string) ([]*chunking.TextChunk, error)
}

// Processor turns one storage event into File and Resource rows.
// File ids are deterministic over (tenant, path) and chunk resource ids
// are deterministic over (file id, index), so replaying an event
// converges instead of duplicating.
type Processor struct {
	stores   StoreFactory
	fetcher  ObjectFetcher
	registry *ProviderRegistry
	splitter ChunkSplitter
	logger   observability.Logger
}

// NewProcessor wires a processor
func NewProcessor(stores StoreFactory, fetcher ObjectFetcher, registry *ProviderRegistry, splitter ChunkSplitter, logger observability.Logger) *Processor {
	if logger == nil {
		logger = observability.NewStandardLogger("worker.processor")
	}
	return &Processor{
		stores:   stores,
		fetcher:  fetcher,
		registry: registry,
		splitter: splitter,
		logger:   logger,
	}
}

// Process applies one storage event. Callers are expected to serialize
// events per file id; Process itself does not lock.
func (p *Processor) Process(ctx context.Context, event queue.StorageEvent) error {
	path, err := queue.ParsePath(event.Path)
	if err != nil {
		return err
	}
	fileID := models.FileID(path.TenantID, event.Path)

	files, err := p.stores(path.TenantID, models.FileDescriptor)
	if err != nil {
		return err
	}
	resources, err := p.stores(path.TenantID, models.ResourceDescriptor)
	if err != nil {
		return err
	}

	switch event.EventType {
	case queue.EventTypeCreate, queue.EventTypeUpdate:
		return p.upsertFile(ctx, event, path, fileID, files, resources)
	case queue.EventTypeDelete:
		return p.deleteFile(ctx, path, fileID, files, resources)
	default:
		return commonerrors.Newf("worker", "Process", commonerrors.KindValidation,
			"unknown event type %q", event.EventType)
	}
}

func (p *Processor) upsertFile(ctx context.Context, event queue.StorageEvent, path queue.EventPath, fileID string, files, resources EntityStore) error {
	prevChunks, err := p.previousChunkCount(ctx, files, fileID)
	if err != nil {
		return err
	}

	file := &models.File{
		BaseModel: models.BaseModel{
			ID:   fileID,
			Name: path.Basename(),
			Metadata: models.JSONMap{
				"category": path.Category,
			},
		},
		URI:      event.Path,
		FileSize: event.FileSize,
	}
	if event.ContentType != "" {
		file.Metadata["content_type"] = event.ContentType
	}
	if event.ETag != "" {
		file.Metadata["etag"] = event.ETag
	}

	chunkCount := 0
	provider := p.registry.Resolve(path, event.ContentType)
	if provider == nil {
		p.logger.Info("no content provider, recording file only", map[string]interface{}{
			"path":         event.Path,
			"content_type": event.ContentType,
		})
	} else {
		payload, err := p.fetcher.Fetch(ctx, event.Path)
		if err != nil {
			var classified *commonerrors.Error
			if errors.As(err, &classified) {
				return err
			}
			return commonerrors.New("worker", "Fetch", commonerrors.KindTransient, err).
				WithContext("path", event.Path)
		}
		text, extracted, err := provider.Extract(ctx, event, payload)
		if err != nil {
			return commonerrors.New("worker", "Extract", commonerrors.KindValidation, err).
				WithContext("path", event.Path).
				WithContext("provider", provider.Name())
		}
		chunks, err := p.splitter.Chunk(ctx, text)
		if err != nil {
			return err
		}
		entities := p.chunkResources(event, path, fileID, chunks)
		if len(entities) > 0 {
			if err := resources.UpsertEntities(ctx, entities); err != nil {
				return err
			}
		}
		chunkCount = len(entities)
		file.Metadata["provider"] = provider.Name()
		for k, v := range extracted {
			if _, taken := file.Metadata[k]; !taken {
				file.Metadata[k] = v
			}
		}
	}

	// An update that produced fewer chunks leaves stale rows at the tail;
	// their ids are deterministic, so they can be deleted without a scan.
	for i := chunkCount; i < prevChunks; i++ {
		if _, err := resources.Delete(ctx, models.ChunkID(fileID, i)); err != nil {
			return err
		}
	}

	file.Metadata["chunk_count"] = chunkCount
	return files.UpsertEntities(ctx, []models.Entity{file})
}

func (p *Processor) deleteFile(ctx context.Context, path queue.EventPath, fileID string, files, resources EntityStore) error {
	var prev models.File
	if err := files.Get(ctx, fileID, &prev); err != nil {
		if commonerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	for i := 0; i < metaInt(prev.Metadata, "chunk_count"); i++ {
		if _, err := resources.Delete(ctx, models.ChunkID(fileID, i)); err != nil {
			return err
		}
	}
	_, err := files.Delete(ctx, fileID)
	if err == nil {
		p.logger.Info("file removed", map[string]interface{}{
			"tenant_id": path.TenantID,
			"file_id":   fileID,
			"path":      path.Full(),
		})
	}
	return err
}

func (p *Processor) chunkResources(event queue.StorageEvent, path queue.EventPath, fileID string, chunks []*chunking.TextChunk) []models.Entity {
	var ts *time.Time
	if event.Timestamp > 0 {
		t := event.Time()
		ts = &t
	}
	entities := make([]models.Entity, 0, len(chunks))
	for i, chunk := range chunks {
		entities = append(entities, &models.Resource{
			BaseModel: models.BaseModel{
				ID:   models.ChunkID(fileID, i),
				Name: fmt.Sprintf("%s_chunk_%d", path.Basename(), i),
				Metadata: models.JSONMap{
					"file_id":     fileID,
					"chunk_index": i,
				},
			},
			Content:           chunk.Content,
			Category:          "content_chunk",
			Ordinal:           i,
			URI:               event.Path,
			ResourceTimestamp: ts,
		})
	}
	return entities
}

func (p *Processor) previousChunkCount(ctx context.Context, files EntityStore, fileID string) (int, error) {
	var prev models.File
	err := files.Get(ctx, fileID, &prev)
	if commonerrors.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return metaInt(prev.Metadata, "chunk_count"), nil
}

// metaInt reads an integer out of a JSON metadata map regardless of how
// the driver decoded it
func metaInt(m models.JSONMap, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
