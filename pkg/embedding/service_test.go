package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

// recordingProvider wraps the mock provider and records which texts each
// upstream call carried
type recordingProvider struct {
	Provider
	calls [][]string
	fail  error
}

func (p *recordingProvider) EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	p.calls = append(p.calls, append([]string(nil), texts...))
	if p.fail != nil {
		return nil, p.fail
	}
	return p.Provider.EncodeBatch(ctx, texts)
}

func newRecordingService(t *testing.T) (*Service, *recordingProvider) {
	t.Helper()
	inner, err := Resolve("mock", Config{Dimensions: 8})
	require.NoError(t, err)
	rec := &recordingProvider{Provider: inner}
	return NewService(rec, observability.NewNoopLogger()), rec
}

func TestEncodeBatch_PreservesInputOrder(t *testing.T) {
	svc, _ := newRecordingService(t)
	texts := []string{"delta", "alpha", "charlie", "bravo"}

	vecs, err := svc.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	mock := &MockProvider{dims: 8}
	for i, text := range texts {
		assert.Equal(t, mock.encode(text), vecs[i], "vector %d should encode %q", i, text)
	}
}

func TestEncodeBatch_CachedHitsInterleaveWithMisses(t *testing.T) {
	svc, rec := newRecordingService(t)
	ctx := context.Background()

	// Warm the cache with two of the four texts
	_, err := svc.EncodeBatch(ctx, []string{"alpha", "charlie"})
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)

	vecs, err := svc.EncodeBatch(ctx, []string{"delta", "alpha", "charlie", "bravo"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	// Only the misses went upstream, in their original relative order
	require.Len(t, rec.calls, 2)
	assert.Equal(t, []string{"delta", "bravo"}, rec.calls[1])

	mock := &MockProvider{dims: 8}
	for i, text := range []string{"delta", "alpha", "charlie", "bravo"} {
		assert.Equal(t, mock.encode(text), vecs[i], "vector %d should encode %q", i, text)
	}
}

func TestEncodeBatch_NoProviderIsDependency(t *testing.T) {
	svc := NewService(nil, observability.NewNoopLogger())

	_, err := svc.EncodeBatch(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.True(t, commonerrors.IsDependency(err))
	assert.ErrorIs(t, err, commonerrors.ErrNoEmbeddingProvider)
	assert.False(t, svc.Available())
}

func TestEncodeBatch_ShortProviderResponseIsInternal(t *testing.T) {
	svc, rec := newRecordingService(t)
	rec.Provider = truncatingProvider{rec.Provider}

	_, err := svc.EncodeBatch(context.Background(), []string{"alpha", "bravo"})
	require.Error(t, err)
	assert.Equal(t, commonerrors.KindInternal, commonerrors.KindOf(err))
}

type truncatingProvider struct{ Provider }

func (p truncatingProvider) EncodeBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	vecs, err := p.Provider.EncodeBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vecs[:len(vecs)-1], nil
}

func TestBreakerProvider_TripsToDependency(t *testing.T) {
	inner, err := Resolve("mock", Config{Dimensions: 8})
	require.NoError(t, err)
	rec := &recordingProvider{Provider: inner, fail: errors.New("backend down")}
	svc := NewService(NewBreakerProvider(rec, observability.NewNoopLogger()), observability.NewNoopLogger())
	ctx := context.Background()

	// Five consecutive failures trip the breaker
	for i := 0; i < 5; i++ {
		_, err := svc.EncodeBatch(ctx, []string{fmt.Sprintf("text-%d", i)})
		require.Error(t, err)
		assert.True(t, commonerrors.IsDependency(err))
	}
	upstream := len(rec.calls)
	assert.Equal(t, 5, upstream)

	// An open breaker fails fast without reaching the provider
	_, err = svc.EncodeBatch(ctx, []string{"after-trip"})
	require.Error(t, err)
	assert.True(t, commonerrors.IsDependency(err))
	assert.Len(t, rec.calls, upstream)
}

func TestOpenAIProvider_SplitsBatchesAndHonorsIndexes(t *testing.T) {
	var requests [][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req.Input)

		// Respond in reverse order; the index field is authoritative
		resp := openAIResponse{Model: req.Model}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(req.Input[i]))}, Index: i})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey:       "test-key",
		Endpoint:     server.URL,
		Dimensions:   1,
		MaxBatchSize: 2,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := provider.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// 5 inputs at batch size 2 means 3 sequential calls
	require.Len(t, requests, 3)
	assert.Equal(t, []string{"a", "bb"}, requests[0])
	assert.Equal(t, []string{"ccc", "dddd"}, requests[1])
	assert.Equal(t, []string{"eeeee"}, requests[2])

	// Output order matches input order despite the reversed responses
	for i, text := range texts {
		assert.Equal(t, models.Vector{float32(len(text))}, vecs[i])
	}
}
