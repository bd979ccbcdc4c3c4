package models

// DocumentChunk is an immutable unit of indexed knowledge. Chunks are
// produced once at ingestion and never mutated; deleting a source document
// removes all of its derived chunks. Score is populated only at query time
// and is never stored.
type DocumentChunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	Language  string    `json:"language"`
	Embedding []float32 `json:"embedding,omitempty"`
	Content   string    `json:"content"`
	Score     float32   `json:"score"` // Relevance score (0-1, higher is better), query-time only
}

// Validate checks if the chunk is valid
func (c *DocumentChunk) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "chunk ID is required"}
	}
	if c.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if c.Score < 0 || c.Score > 1 {
		return &ValidationError{Field: "score", Message: "score must be between 0 and 1"}
	}
	return nil
}

// Snippet returns a bounded preview of the chunk content for citations.
// Truncation is rune-aware so multi-byte content is never cut mid-character.
func (c *DocumentChunk) Snippet(maxLen int) string {
	if maxLen <= 0 || len(c.Content) <= maxLen {
		return c.Content
	}
	runes := []rune(c.Content)
	if len(runes) <= maxLen {
		return c.Content
	}
	return string(runes[:maxLen]) + "..."
}

// Clone returns a deep copy of the chunk
func (c *DocumentChunk) Clone() *DocumentChunk {
	clone := *c
	if c.Embedding != nil {
		clone.Embedding = make([]float32, len(c.Embedding))
		copy(clone.Embedding, c.Embedding)
	}
	return &clone
}

// RetrievalResult is the ephemeral output of one retrieval pass. It is owned
// by the call that produced it, consumed by the context assembler, and never
// persisted. Chunks are ordered by score descending.
type RetrievalResult struct {
	Chunks           []*DocumentChunk `json:"chunks"`
	Query            string           `json:"query"`
	RetrievalTimeMs  float64          `json:"retrieval_time_ms"`
	RerankingApplied bool             `json:"reranking_applied"`
}

// Clone returns a deep copy of the result so callers can mutate their
// chunks without affecting anyone else holding the original
func (r *RetrievalResult) Clone() *RetrievalResult {
	clone := *r
	clone.Chunks = make([]*DocumentChunk, len(r.Chunks))
	for i, c := range r.Chunks {
		clone.Chunks[i] = c.Clone()
	}
	return &clone
}

// TopChunk returns the highest scored chunk, or nil when empty
func (r *RetrievalResult) TopChunk() *DocumentChunk {
	if len(r.Chunks) == 0 {
		return nil
	}
	return r.Chunks[0]
}

// AverageScore returns the mean relevance score across retrieved chunks
func (r *RetrievalResult) AverageScore() float64 {
	if len(r.Chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.Chunks {
		sum += float64(c.Score)
	}
	return sum / float64(len(r.Chunks))
}

// IsEmpty reports whether retrieval produced no usable chunks
func (r *RetrievalResult) IsEmpty() bool {
	return len(r.Chunks) == 0
}

// SeedDocument is a knowledge-base entry loaded from the seed file and
// chunked/embedded during development bootstrap
type SeedDocument struct {
	Source   string `json:"source"`
	Category string `json:"category"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Validate checks if the seed document is usable
func (d *SeedDocument) Validate() error {
	if d.Source == "" {
		return &ValidationError{Field: "source", Message: "source is required"}
	}
	if d.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	return nil
}
