// Package text splits extracted document text into budgeted chunks for
// the ingestion pipeline. Chunk resources are stored one per chunk with
// deterministic ids over (file id, index), so the splitter must be
// deterministic: the same text and budget always yield the same chunks.
package text

import (
	"context"
	"strings"

	"github.com/S-Corkum/remstore/pkg/chunking"
)

// defaultSeparators orders the boundaries the splitter prefers, coarsest
// first: paragraph, line, sentence, clause, word. Separators stay
// attached to the text on their left, so concatenating segments
// reproduces the source byte for byte.
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", " "}

// Splitter packs document text into chunks of at most ChunkSize length
// units, breaking along the separator hierarchy and carrying up to
// ChunkOverlap trailing units into the next chunk as context.
type Splitter struct {
	separators []string
	chunkSize  int
	overlap    int
	length     func(string) int
}

// Config tunes a Splitter. The zero value gets byte-length budgeting
// with the default separator hierarchy.
type Config struct {
	Separators   []string
	ChunkSize    int
	ChunkOverlap int
	// Length measures text in the unit the budgets are expressed in
	// (bytes, tokens, words). Defaults to byte length.
	Length func(string) int
}

// NewSplitter builds a Splitter
func NewSplitter(cfg Config) *Splitter {
	if len(cfg.Separators) == 0 {
		cfg.Separators = defaultSeparators
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.Length == nil {
		cfg.Length = func(s string) int { return len(s) }
	}
	return &Splitter{
		separators: cfg.Separators,
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		length:     cfg.Length,
	}
}

// Chunk splits text into ordered, offset-annotated chunks
func (s *Splitter) Chunk(_ context.Context, text string) ([]*chunking.TextChunk, error) {
	if text == "" {
		return nil, nil
	}
	return s.pack(s.segment(text, 0)), nil
}

// segment cuts text into pieces that each fit the budget, trying the
// separators from level onward and falling back to a hard cut when none
// of them appear.
func (s *Splitter) segment(text string, level int) []string {
	if s.length(text) <= s.chunkSize {
		return []string{text}
	}
	for ; level < len(s.separators); level++ {
		parts := strings.SplitAfter(text, s.separators[level])
		if len(parts) < 2 {
			continue
		}
		var segs []string
		for _, part := range parts {
			if part == "" {
				continue
			}
			segs = append(segs, s.segment(part, level+1)...)
		}
		return segs
	}
	return s.hardCut(text)
}

// hardCut slices separator-free text at rune boundaries, growing each
// piece until the next rune would blow the budget
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	var out []string
	for lo := 0; lo < len(runes); {
		hi := lo + 1
		for hi < len(runes) && s.length(string(runes[lo:hi+1])) <= s.chunkSize {
			hi++
		}
		out = append(out, string(runes[lo:hi]))
		lo = hi
	}
	return out
}

// pack greedily fills each chunk from consecutive segments, then steps
// back over the emitted tail to seed the next chunk with overlap. An
// oversized single segment cannot occur here; segment() guarantees every
// piece fits the budget.
func (s *Splitter) pack(segs []string) []*chunking.TextChunk {
	starts := make([]int, len(segs)+1)
	for i, seg := range segs {
		starts[i+1] = starts[i] + len(seg)
	}

	var chunks []*chunking.TextChunk
	for i := 0; i < len(segs); {
		used := s.length(segs[i])
		j := i + 1
		for j < len(segs) {
			l := s.length(segs[j])
			if used+l > s.chunkSize {
				break
			}
			used += l
			j++
		}

		content := strings.Join(segs[i:j], "")
		chunks = append(chunks, &chunking.TextChunk{
			Content:    content,
			Index:      len(chunks),
			TokenCount: s.length(content),
			Start:      starts[i],
			End:        starts[j],
		})
		if j == len(segs) {
			break
		}

		// Re-open the window on the latest segments that fit the overlap
		// budget, always keeping at least one new segment of progress.
		next := j
		carried := 0
		for next > i+1 {
			l := s.length(segs[next-1])
			if carried+l > s.overlap {
				break
			}
			carried += l
			next--
		}
		i = next
	}
	return chunks
}
