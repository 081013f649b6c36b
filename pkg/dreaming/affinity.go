package dreaming

import (
	"context"
	"fmt"
	"sort"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

const affinitySystemPrompt = `You judge how strongly two pieces of personal content relate:
shared topic, shared people, one continuing the other.

Respond with ONLY a JSON object: {"affinity": 0.0-1.0, "rationale": "one sentence"}`

type affinityPayload struct {
	Affinity  float64 `json:"affinity"`
	Rationale string  `json:"rationale"`
}

// AffinityConfig tunes second-order dreaming
type AffinityConfig struct {
	// TopK bounds neighbors per source resource
	TopK int
	// Threshold is the minimum cosine similarity to consider
	Threshold float64
	// UseLLM enables the LLM scoring pass over candidate pairs
	UseLLM bool
	// LLMThreshold drops pairs the LLM scores below it
	LLMThreshold float64
}

// AffinityScorer derives graph_edges between a resource and its nearest
// neighbors
type AffinityScorer struct {
	llm    LLMClient
	cfg    AffinityConfig
	logger observability.Logger
}

// NewAffinityScorer wires a scorer. llm may be nil when cfg.UseLLM is
// false.
func NewAffinityScorer(llm LLMClient, cfg AffinityConfig, logger observability.Logger) *AffinityScorer {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = observability.NewStandardLogger("dreaming.affinity")
	}
	return &AffinityScorer{llm: llm, cfg: cfg, logger: logger}
}

// Edges scores one source against its semantic neighbors and returns the
// affinity edges to write onto it, sorted by weight descending
func (a *AffinityScorer) Edges(ctx context.Context, store Store, source *models.Resource) (models.GraphEdgeList, error) {
	if source.Content == "" {
		return nil, nil
	}
	hits, err := store.SemanticSearch(ctx, source.Content, "content", a.cfg.TopK+1, a.cfg.Threshold)
	if err != nil {
		return nil, err
	}

	var edges models.GraphEdgeList
	for _, hit := range hits {
		if hit.ID == source.ID {
			continue
		}
		weight := hit.Score
		if a.cfg.UseLLM && a.llm != nil {
			scored, ok := a.scorePair(ctx, source, hit.ID, store)
			if !ok {
				continue
			}
			weight = scored
		}
		edges = append(edges, models.GraphEdge{
			TargetID: hit.ID,
			Weight:   weight,
			Kind:     "affinity",
		})
		if len(edges) == a.cfg.TopK {
			break
		}
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	return edges, nil
}

// scorePair asks the LLM for an affinity in [0,1]; returns false when the
// pair should be dropped
func (a *AffinityScorer) scorePair(ctx context.Context, source *models.Resource, targetID string, store Store) (float64, bool) {
	var target models.Resource
	if err := store.Get(ctx, targetID, &target); err != nil {
		return 0, false
	}
	prompt := fmt.Sprintf("Content A:\n%s\n\nContent B:\n%s", excerpt(source), excerpt(&target))
	raw, err := a.llm.Complete(ctx, affinitySystemPrompt, prompt)
	if err != nil {
		a.logger.Warn("affinity scoring failed", map[string]interface{}{
			"source_id": source.ID,
			"target_id": targetID,
			"error":     err.Error(),
		})
		return 0, false
	}
	var payload affinityPayload
	if err := DecodeResponse(raw, &payload); err != nil {
		return 0, false
	}
	if payload.Affinity < a.cfg.LLMThreshold {
		return 0, false
	}
	if payload.Affinity > 1 {
		payload.Affinity = 1
	}
	return payload.Affinity, true
}

func excerpt(r *models.Resource) string {
	if r.Summary != "" {
		return r.Summary
	}
	const maxExcerpt = 800
	if len(r.Content) > maxExcerpt {
		return r.Content[:maxExcerpt]
	}
	return r.Content
}
