// Package chunking defines the chunk types produced by ingestion before
// they become resources.
package chunking

// TextChunk is one ordered slice of an extracted document. Start and End
// are byte offsets into the source text; Content always equals
// source[Start:End], so consecutive chunks overlap exactly where their
// offset ranges do.
type TextChunk struct {
	Content    string `json:"content"`
	Index      int    `json:"index"`
	TokenCount int    `json:"token_count"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}
