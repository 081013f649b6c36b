package worker

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/remstore/pkg/chunking"
	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/queue"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]models.Entity
	deleted  []string
	failures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]models.Entity)}
}

func (s *fakeStore) UpsertEntities(_ context.Context, entities []models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return commonerrors.Newf("repository", "UpsertEntities", commonerrors.KindTransient, "connection reset")
	}
	for _, e := range entities {
		s.rows[e.GetID()] = e
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return commonerrors.New("repository", "Get", commonerrors.KindNotFound, commonerrors.ErrNotFound)
	}
	switch d := dest.(type) {
	case *models.File:
		*d = *(e.(*models.File))
	case *models.Resource:
		*d = *(e.(*models.Resource))
	default:
		return commonerrors.Newf("repository", "Get", commonerrors.KindInternal, "unsupported dest %T", dest)
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.rows[id]
	delete(s.rows, id)
	s.deleted = append(s.deleted, id)
	return existed, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	objects  map[string][]byte
	calls    int
	failures int
}

func (f *fakeFetcher) Fetch(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, assert.AnError
	}
	body, ok := f.objects[path]
	if !ok {
		return nil, assert.AnError
	}
	return body, nil
}

// lineSplitter yields one chunk per non-empty line, keeping chunk counts
// predictable in tests
type lineSplitter struct{}

func (lineSplitter) Chunk(_ context.Context, text string) ([]*chunking.TextChunk, error) {
	var chunks []*chunking.TextChunk
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		chunks = append(chunks, &chunking.TextChunk{Content: line, Index: len(chunks)})
	}
	return chunks, nil
}

type harness struct {
	files     *fakeStore
	resources *fakeStore
	fetcher   *fakeFetcher
	processor *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		files:     newFakeStore(),
		resources: newFakeStore(),
		fetcher:   &fakeFetcher{objects: make(map[string][]byte)},
	}
	factory := func(tenantID string, desc models.ModelDescriptor) (EntityStore, error) {
		switch desc.Table {
		case "files":
			return h.files, nil
		case "resources":
			return h.resources, nil
		}
		return nil, commonerrors.Newf("worker", "stores", commonerrors.KindInternal, "no store for %s", desc.Table)
	}
	h.processor = NewProcessor(factory, h.fetcher, NewProviderRegistry(PlainTextProvider{}), lineSplitter{}, nil)
	return h
}

func createEvent(path string) queue.StorageEvent {
	return queue.StorageEvent{
		EventType: queue.EventTypeCreate,
		Path:      path,
		Timestamp: 1756000000,
		FileSize:  42,
	}
}

func TestProcessor_CreateWritesFileAndChunks(t *testing.T) {
	h := newHarness(t)
	path := "buckets/tenant-a/documents/notes/journal.md"
	h.fetcher.objects[path] = []byte("first line\nsecond line\n")

	require.NoError(t, h.processor.Process(context.Background(), createEvent(path)))

	fileID := models.FileID("tenant-a", path)
	var file models.File
	require.NoError(t, h.files.Get(context.Background(), fileID, &file))
	assert.Equal(t, "journal.md", file.Name)
	assert.Equal(t, path, file.URI)
	assert.Equal(t, int64(42), file.FileSize)
	assert.Equal(t, 2, metaInt(file.Metadata, "chunk_count"))
	assert.Equal(t, "documents", file.Metadata["category"])
	assert.Equal(t, "plain_text", file.Metadata["provider"])

	var chunk models.Resource
	require.NoError(t, h.resources.Get(context.Background(), models.ChunkID(fileID, 0), &chunk))
	assert.Equal(t, "first line", chunk.Content)
	assert.Equal(t, "journal.md_chunk_0", chunk.Name)
	assert.Equal(t, "content_chunk", chunk.Category)
	assert.Equal(t, 0, chunk.Ordinal)
	assert.Equal(t, fileID, chunk.Metadata["file_id"])
	require.NotNil(t, chunk.ResourceTimestamp)
	assert.Equal(t, int64(1756000000), chunk.ResourceTimestamp.Unix())

	require.NoError(t, h.resources.Get(context.Background(), models.ChunkID(fileID, 1), &chunk))
	assert.Equal(t, "second line", chunk.Content)
}

func TestProcessor_UpdateRemovesStaleChunks(t *testing.T) {
	h := newHarness(t)
	path := "buckets/tenant-a/documents/journal.md"
	fileID := models.FileID("tenant-a", path)

	h.fetcher.objects[path] = []byte("one\ntwo\nthree\n")
	require.NoError(t, h.processor.Process(context.Background(), createEvent(path)))
	require.Len(t, h.resources.rows, 3)

	h.fetcher.objects[path] = []byte("only line\n")
	update := createEvent(path)
	update.EventType = queue.EventTypeUpdate
	require.NoError(t, h.processor.Process(context.Background(), update))

	assert.Len(t, h.resources.rows, 1)
	assert.Contains(t, h.resources.deleted, models.ChunkID(fileID, 1))
	assert.Contains(t, h.resources.deleted, models.ChunkID(fileID, 2))

	var file models.File
	require.NoError(t, h.files.Get(context.Background(), fileID, &file))
	assert.Equal(t, 1, metaInt(file.Metadata, "chunk_count"))
}

func TestProcessor_UnsupportedTypeRecordsFileOnly(t *testing.T) {
	h := newHarness(t)
	path := "buckets/tenant-a/audio/recording.wav"

	require.NoError(t, h.processor.Process(context.Background(), createEvent(path)))

	assert.Zero(t, h.fetcher.calls)
	assert.Empty(t, h.resources.rows)

	var file models.File
	require.NoError(t, h.files.Get(context.Background(), models.FileID("tenant-a", path), &file))
	assert.Equal(t, 0, metaInt(file.Metadata, "chunk_count"))
}

func TestProcessor_DeleteCascades(t *testing.T) {
	h := newHarness(t)
	path := "buckets/tenant-a/documents/journal.md"
	fileID := models.FileID("tenant-a", path)

	h.fetcher.objects[path] = []byte("one\ntwo\n")
	require.NoError(t, h.processor.Process(context.Background(), createEvent(path)))

	del := createEvent(path)
	del.EventType = queue.EventTypeDelete
	require.NoError(t, h.processor.Process(context.Background(), del))

	assert.Empty(t, h.files.rows)
	assert.Empty(t, h.resources.rows)
	assert.ElementsMatch(t, []string{models.ChunkID(fileID, 0), models.ChunkID(fileID, 1)}, h.resources.deleted)

	// Deleting an unknown file is a no-op
	require.NoError(t, h.processor.Process(context.Background(), del))
}

func TestProcessor_UnknownEventTypeIsValidation(t *testing.T) {
	h := newHarness(t)
	ev := createEvent("buckets/tenant-a/documents/a.txt")
	ev.EventType = "rename"
	err := h.processor.Process(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))
}
