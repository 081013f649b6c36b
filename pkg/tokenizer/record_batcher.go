package tokenizer

import (
	"fmt"
	"strings"
)

// Record is one unit handed to an LLM context window: a resource chunk, a
// session message, or any other row rendered to text. Records are atomic;
// the batcher never splits one.
type Record struct {
	ID        string
	Kind      string
	Content   string
	Timestamp string
}

// Format renders the record the way it appears inside a prompt
func (r Record) Format() string {
	var parts []string
	if r.Kind != "" {
		parts = append(parts, fmt.Sprintf("[%s]", r.Kind))
	}
	parts = append(parts, r.Content)
	if r.Timestamp != "" {
		parts = append(parts, fmt.Sprintf("(at %s)", r.Timestamp))
	}
	return strings.Join(parts, " ")
}

// RecordBatcher groups records into token-budgeted batches for the
// dreaming pipelines
type RecordBatcher struct {
	tokenizer Tokenizer
}

// NewRecordBatcher creates a RecordBatcher. A nil tokenizer falls back to
// the simple heuristic.
func NewRecordBatcher(t Tokenizer) *RecordBatcher {
	if t == nil {
		t = NewSimpleTokenizer(0)
	}
	return &RecordBatcher{tokenizer: t}
}

// Batch splits records into consecutive batches, each within maxTokens.
// Record order is preserved and records are never split: a record larger
// than the whole budget becomes a batch of its own.
func (b *RecordBatcher) Batch(records []Record, maxTokens int) [][]Record {
	if maxTokens <= 0 {
		maxTokens = b.tokenizer.GetTokenLimit()
	}

	var batches [][]Record
	var current []Record
	currentTokens := 0

	for _, rec := range records {
		tokens := b.tokenizer.CountTokens(rec.Format())
		if len(current) > 0 && currentTokens+tokens > maxTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, rec)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// EstimateTokens sums the token counts of the formatted records
func (b *RecordBatcher) EstimateTokens(records []Record) int {
	total := 0
	for _, rec := range records {
		total += b.tokenizer.CountTokens(rec.Format())
	}
	return total
}

// RenderBatch joins a batch into one prompt block, one record per line
func (b *RecordBatcher) RenderBatch(records []Record) string {
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = rec.Format()
	}
	return strings.Join(lines, "\n")
}
