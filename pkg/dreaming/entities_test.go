package dreaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Sarah Chen", "sarah-chen"},
		{"sarah-chen", "sarah-chen"},
		{"  TiDB  ", "tidb"},
		{"O'Brien & Co.", "o-brien-co"},
		{"v2.0_release", "v2-0-release"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalID(tt.in), "input %q", tt.in)
	}
}

func TestEntityExtractor_CanonicalizesIDs(t *testing.T) {
	llm := &stubLLM{responses: map[string]string{
		"named entities": `{"entities":[
			{"entity_id":"Sarah Chen","entity_type":"person","entity_name":"Sarah Chen","mentions":0,"confidence":0.9},
			{"entity_id":"","entity_type":"technology","entity_name":"TiDB","mentions":3,"confidence":0.8},
			{"entity_id":"","entity_type":"mystery","entity_name":"","mentions":1,"confidence":0.1}
		]}`,
	}}
	extractor := NewEntityExtractor(llm, nil)

	entities, err := extractor.Extract(context.Background(), "Met Sarah Chen about TiDB.")
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, "sarah-chen", entities[0].EntityID)
	assert.Equal(t, 1, entities[0].Mentions, "zero mentions floor to one")
	assert.Equal(t, "tidb", entities[1].EntityID, "id derived from name when missing")
	assert.Equal(t, 3, entities[1].Mentions)
}

func TestEntityExtractor_UnparseableResponse(t *testing.T) {
	llm := &stubLLM{responses: map[string]string{"named entities": "none found"}}
	extractor := NewEntityExtractor(llm, nil)
	_, err := extractor.Extract(context.Background(), "content")
	require.Error(t, err)
}
