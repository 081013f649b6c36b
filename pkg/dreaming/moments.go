package dreaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

const momentSystemPrompt = `You are a memory consolidation assistant. You read a batch of
recent conversation messages and content summaries belonging to one person and extract the
distinct "moments" they describe: meetings, decisions, experiences, reflections.

Respond with ONLY a JSON object of this exact shape:

{"moments": [{
  "name": "short unique title",
  "content": "what happened, 1-3 sentences",
  "summary": "one sentence",
  "resource_timestamp": "RFC3339 start time",
  "resource_ends_timestamp": "RFC3339 end time or empty",
  "moment_type": "meeting|decision|experience|reflection",
  "emotion_tags": ["..."],
  "topic_tags": ["..."],
  "present_persons": [{"name": "...", "fingerprint": "...", "relation": "..."}],
  "location": "..."
}]}

Only include moments clearly supported by the input. Use empty arrays, not null.`

// momentRecord mirrors one element of the LLM's moments array.
// present_persons arrives as either a list or a map; it is normalized
// after decoding.
type momentRecord struct {
	Name                  string          `json:"name"`
	Content               string          `json:"content"`
	Summary               string          `json:"summary"`
	ResourceTimestamp     string          `json:"resource_timestamp"`
	ResourceEndsTimestamp string          `json:"resource_ends_timestamp"`
	MomentType            string          `json:"moment_type"`
	EmotionTags           []string        `json:"emotion_tags"`
	TopicTags             []string        `json:"topic_tags"`
	PresentPersons        json.RawMessage `json:"present_persons"`
	Location              string          `json:"location"`
}

type momentPayload struct {
	Moments []momentRecord `json:"moments"`
}

// MomentID computes the deterministic moment id over the idempotency key
// (tenant_id, name, resource_timestamp)
func MomentID(tenantID, name string, ts *time.Time) string {
	stamp := ""
	if ts != nil {
		stamp = ts.UTC().Format(time.RFC3339)
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(tenantID+"|moment|"+name+"|"+stamp)).String()
}

// MomentBuilder turns one token-budgeted batch of records into Moment
// entities via the LLM
type MomentBuilder struct {
	llm    LLMClient
	logger observability.Logger
}

// NewMomentBuilder wires a builder
func NewMomentBuilder(llm LLMClient, logger observability.Logger) *MomentBuilder {
	if logger == nil {
		logger = observability.NewStandardLogger("dreaming.moments")
	}
	return &MomentBuilder{llm: llm, logger: logger}
}

// Build extracts moments from one rendered batch. A response that fails
// to parse skips the batch; earlier batches' moments persist.
func (b *MomentBuilder) Build(ctx context.Context, tenantID, batch string) ([]models.Entity, error) {
	raw, err := b.llm.Complete(ctx, momentSystemPrompt, batch)
	if err != nil {
		return nil, err
	}
	var payload momentPayload
	if err := DecodeResponse(raw, &payload); err != nil {
		return nil, err
	}

	moments := make([]models.Entity, 0, len(payload.Moments))
	for _, rec := range payload.Moments {
		if rec.Name == "" || rec.Content == "" {
			continue
		}
		start := parseMomentTime(rec.ResourceTimestamp)
		moment := &models.Moment{
			BaseModel: models.BaseModel{
				ID:   MomentID(tenantID, rec.Name, start),
				Name: rec.Name,
			},
			Content:               rec.Content,
			Summary:               rec.Summary,
			ResourceTimestamp:     start,
			ResourceEndsTimestamp: parseMomentTime(rec.ResourceEndsTimestamp),
			MomentType:            rec.MomentType,
			EmotionTags:           rec.EmotionTags,
			TopicTags:             rec.TopicTags,
			PresentPersons:        normalizePersons(rec.PresentPersons),
			Location:              rec.Location,
		}
		moments = append(moments, moment)
	}
	return moments, nil
}

func parseMomentTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// normalizePersons accepts the three shapes models produce for
// present_persons: a map keyed by fingerprint, a list of person objects,
// or a list of names. Keys fall back to a slug of the name, then to a
// synthetic ordinal.
func normalizePersons(raw json.RawMessage) models.PersonMap {
	if len(raw) == 0 {
		return nil
	}

	var asMap map[string]models.Person
	if err := json.Unmarshal(raw, &asMap); err == nil {
		if len(asMap) == 0 {
			return nil
		}
		return asMap
	}

	var asList []models.Person
	if err := json.Unmarshal(raw, &asList); err != nil {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil
		}
		for _, name := range names {
			asList = append(asList, models.Person{Name: name})
		}
	}
	if len(asList) == 0 {
		return nil
	}

	out := make(models.PersonMap, len(asList))
	for i, person := range asList {
		key := person.Fingerprint
		if key == "" {
			key = canonicalID(person.Name)
		}
		if key == "" {
			key = fmt.Sprintf("person-%d", i)
		}
		out[key] = person
	}
	return out
}
