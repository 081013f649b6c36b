package dreaming

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/repository"
)

func TestAffinityScorer_EdgesDropSelfAndRespectTopK(t *testing.T) {
	store := newDreamStore()
	source := seedResource(store, "src", "source content")
	seedResource(store, "n1", "a")
	seedResource(store, "n2", "b")
	seedResource(store, "n3", "c")
	store.hits = []repository.SearchHit{
		{ID: "src", Score: 1.0},
		{ID: "n1", Score: 0.9},
		{ID: "n2", Score: 0.8},
		{ID: "n3", Score: 0.7},
	}

	scorer := NewAffinityScorer(nil, AffinityConfig{TopK: 2, Threshold: 0.5}, nil)
	edges, err := scorer.Edges(context.Background(), store, source)
	require.NoError(t, err)

	assert.Equal(t, models.GraphEdgeList{
		{TargetID: "n1", Weight: 0.9, Kind: "affinity"},
		{TargetID: "n2", Weight: 0.8, Kind: "affinity"},
	}, edges)
}

func TestAffinityScorer_EmptyContentSkips(t *testing.T) {
	scorer := NewAffinityScorer(nil, AffinityConfig{}, nil)
	edges, err := scorer.Edges(context.Background(), newDreamStore(), &models.Resource{})
	require.NoError(t, err)
	assert.Nil(t, edges)
}

func TestAffinityScorer_LLMPassFiltersAndReweights(t *testing.T) {
	store := newDreamStore()
	source := seedResource(store, "src", "source content")
	seedResource(store, "keep", "related content")
	seedResource(store, "drop", "unrelated content")
	store.hits = []repository.SearchHit{
		{ID: "keep", Score: 0.9},
		{ID: "drop", Score: 0.85},
	}

	llm := &pairScoringLLM{scores: map[string]string{
		"related content":   `{"affinity":0.95,"rationale":"continuation"}`,
		"unrelated content": `{"affinity":0.1,"rationale":"different topic"}`,
	}}
	scorer := NewAffinityScorer(llm, AffinityConfig{TopK: 5, UseLLM: true, LLMThreshold: 0.5}, nil)

	edges, err := scorer.Edges(context.Background(), store, source)
	require.NoError(t, err)
	assert.Equal(t, models.GraphEdgeList{{TargetID: "keep", Weight: 0.95, Kind: "affinity"}}, edges)
}

// pairScoringLLM picks a response by which candidate appears in the prompt
type pairScoringLLM struct {
	scores map[string]string
}

func (l *pairScoringLLM) Complete(_ context.Context, _, prompt string) (string, error) {
	for fragment, response := range l.scores {
		if strings.Contains(prompt, fragment) {
			return response, nil
		}
	}
	return `{"affinity":0}`, nil
}

func (l *pairScoringLLM) Model() string { return "stub" }
