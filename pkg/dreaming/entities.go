package dreaming

import (
	"context"
	"strings"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
)

const entitySystemPrompt = `You extract named entities from a piece of personal content:
people, organizations, projects, technologies, places.

Respond with ONLY a JSON object of this exact shape:

{"entities": [{
  "entity_id": "lowercase-hyphenated canonical id, e.g. sarah-chen",
  "entity_type": "person|organization|project|technology|place",
  "entity_name": "display name",
  "mentions": 1,
  "confidence": 0.9
}]}

Merge repeated mentions of the same entity into one entry with a mention count.`

type entityPayload struct {
	Entities []models.RelatedEntity `json:"entities"`
}

// EntityExtractor produces related_entities lists for resources
type EntityExtractor struct {
	llm    LLMClient
	logger observability.Logger
}

// NewEntityExtractor wires an extractor
func NewEntityExtractor(llm LLMClient, logger observability.Logger) *EntityExtractor {
	if logger == nil {
		logger = observability.NewStandardLogger("dreaming.entities")
	}
	return &EntityExtractor{llm: llm, logger: logger}
}

// Extract returns the entities referenced by the content. Entity ids are
// forced into canonical lowercase-hyphenated form regardless of what the
// model returned.
func (e *EntityExtractor) Extract(ctx context.Context, content string) ([]models.RelatedEntity, error) {
	raw, err := e.llm.Complete(ctx, entitySystemPrompt, content)
	if err != nil {
		return nil, err
	}
	var payload entityPayload
	if err := DecodeResponse(raw, &payload); err != nil {
		return nil, err
	}

	entities := payload.Entities[:0]
	for _, ent := range payload.Entities {
		id := canonicalID(ent.EntityID)
		if id == "" {
			id = canonicalID(ent.EntityName)
		}
		if id == "" {
			continue
		}
		ent.EntityID = id
		if ent.Mentions <= 0 {
			ent.Mentions = 1
		}
		entities = append(entities, ent)
	}
	return entities, nil
}

// canonicalID lowercases and hyphenates a name into the reverse-index
// entity id form: "Sarah Chen" -> "sarah-chen"
func canonicalID(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
