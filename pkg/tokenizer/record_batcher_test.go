package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBatcher_NeverSplitsRecords(t *testing.T) {
	batcher := NewRecordBatcher(NewSimpleTokenizer(8192))

	records := []Record{
		{ID: "1", Kind: "chunk", Content: strings.Repeat("alpha ", 30)},
		{ID: "2", Kind: "chunk", Content: strings.Repeat("bravo ", 30)},
		{ID: "3", Kind: "chunk", Content: strings.Repeat("charlie ", 30)},
	}

	batches := batcher.Batch(records, 90)
	require.NotEmpty(t, batches)

	seen := 0
	for _, batch := range batches {
		assert.NotEmpty(t, batch)
		for _, rec := range batch {
			// Each record appears whole, in order
			assert.Equal(t, records[seen].ID, rec.ID)
			assert.Equal(t, records[seen].Content, rec.Content)
			seen++
		}
	}
	assert.Equal(t, len(records), seen)
}

func TestRecordBatcher_OversizedRecordGetsOwnBatch(t *testing.T) {
	batcher := NewRecordBatcher(NewSimpleTokenizer(8192))

	records := []Record{
		{ID: "small", Content: "tiny"},
		{ID: "huge", Content: strings.Repeat("word ", 500)},
		{ID: "small2", Content: "tiny again"},
	}

	batches := batcher.Batch(records, 50)
	require.Len(t, batches, 3)
	assert.Equal(t, "small", batches[0][0].ID)
	assert.Equal(t, "huge", batches[1][0].ID)
	require.Len(t, batches[1], 1)
	assert.Equal(t, "small2", batches[2][0].ID)
}

func TestRecordBatcher_RespectsBudget(t *testing.T) {
	tk := NewSimpleTokenizer(8192)
	batcher := NewRecordBatcher(tk)

	var records []Record
	for i := 0; i < 20; i++ {
		records = append(records, Record{ID: string(rune('a' + i)), Content: "one two three four five"})
	}

	budget := 40
	batches := batcher.Batch(records, budget)
	for i, batch := range batches {
		if len(batch) == 1 {
			continue // single oversized record is allowed through
		}
		total := batcher.EstimateTokens(batch)
		assert.LessOrEqual(t, total, budget, "batch %d over budget", i)
	}
}

func TestRecord_Format(t *testing.T) {
	r := Record{Kind: "session", Content: "hello there", Timestamp: "2026-01-02T03:04:05Z"}
	formatted := r.Format()
	assert.Contains(t, formatted, "[session]")
	assert.Contains(t, formatted, "hello there")
	assert.Contains(t, formatted, "(at 2026-01-02T03:04:05Z)")

	rendered := NewRecordBatcher(nil).RenderBatch([]Record{r, {Content: "second"}})
	assert.Equal(t, 2, len(strings.Split(rendered, "\n")))
}
