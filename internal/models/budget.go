package models

// TokenBudget tracks per-turn context accounting. Created fresh each turn,
// never persisted. Invariant: UsedTokens() + ReservedForResponse never
// exceeds MaxTokens on an assembled context.
type TokenBudget struct {
	MaxTokens              int `json:"max_tokens"`
	SystemPromptTokens     int `json:"system_prompt_tokens"`
	ConversationTokens     int `json:"conversation_tokens"`
	RetrievedContextTokens int `json:"retrieved_context_tokens"`
	ReservedForResponse    int `json:"reserved_for_response"`
}

// UsedTokens returns the total tokens consumed so far
func (b *TokenBudget) UsedTokens() int {
	return b.SystemPromptTokens + b.ConversationTokens + b.RetrievedContextTokens
}

// AvailableTokens returns the tokens still free for context
func (b *TokenBudget) AvailableTokens() int {
	avail := b.MaxTokens - b.UsedTokens() - b.ReservedForResponse
	if avail < 0 {
		return 0
	}
	return avail
}

// CanAdd reports whether n more tokens fit without breaking the invariant
func (b *TokenBudget) CanAdd(n int) bool {
	return b.UsedTokens()+n+b.ReservedForResponse <= b.MaxTokens
}

// Utilization returns the fraction of the budget consumed
func (b *TokenBudget) Utilization() float64 {
	if b.MaxTokens <= 0 {
		return 0
	}
	return float64(b.UsedTokens()) / float64(b.MaxTokens)
}

// Validate checks the budget holds its invariant
func (b *TokenBudget) Validate() error {
	if b.MaxTokens <= 0 {
		return &ValidationError{Field: "max_tokens", Message: "max tokens must be positive"}
	}
	if b.ReservedForResponse < 0 {
		return &ValidationError{Field: "reserved_for_response", Message: "reserved tokens cannot be negative"}
	}
	if b.UsedTokens()+b.ReservedForResponse > b.MaxTokens {
		return &ValidationError{Field: "max_tokens", Message: "used + reserved exceeds max tokens"}
	}
	return nil
}

// PromptContext is the single bounded context assembled for one generation
// call. ChunksUsed is the authoritative set a response may cite from.
type PromptContext struct {
	SystemPrompt string
	Messages     []Message
	Summary      *ConversationSummary
	ChunksUsed   []*DocumentChunk
	Budget       TokenBudget
}

// ChunkIDSet returns the set of chunk IDs included in the context
func (p *PromptContext) ChunkIDSet() map[string]bool {
	set := make(map[string]bool, len(p.ChunksUsed))
	for _, c := range p.ChunksUsed {
		set[c.ID] = true
	}
	return set
}

// ContainsChunk reports whether a chunk ID is part of the assembled context
func (p *PromptContext) ContainsChunk(id string) bool {
	for _, c := range p.ChunksUsed {
		if c.ID == id {
			return true
		}
	}
	return false
}
