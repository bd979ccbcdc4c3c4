package repositories

import (
	"context"

	"support-agent/internal/models"
)

// KnowledgeRepository defines the interface for knowledge base operations
// This abstracts ChromaDB operations and allows for easy testing and implementation swapping
type KnowledgeRepository interface {
	// Retrieval
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filters *SearchFilters) ([]*models.DocumentChunk, error)
	LexicalSearch(ctx context.Context, queryEmbedding []float32, term string, topK int, filters *SearchFilters) ([]*models.DocumentChunk, error)

	// Knowledge base management
	StoreChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	DeleteDocument(ctx context.Context, source string) error
	ListChunks(ctx context.Context, filters *SearchFilters, limit, offset int) ([]*models.DocumentChunk, error)
	CountChunks(ctx context.Context) (int, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// SearchFilters narrows retrieval to a knowledge base slice
type SearchFilters struct {
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
	Source   string `json:"source,omitempty"`
}

// IsEmpty reports whether no filter is set
func (f *SearchFilters) IsEmpty() bool {
	return f == nil || (f.Category == "" && f.Language == "" && f.Source == "")
}

// ToWhere builds a ChromaDB metadata filter from the set fields
func (f *SearchFilters) ToWhere() map[string]interface{} {
	if f.IsEmpty() {
		return nil
	}
	clauses := []map[string]interface{}{}
	if f.Category != "" {
		clauses = append(clauses, map[string]interface{}{"category": f.Category})
	}
	if f.Language != "" {
		clauses = append(clauses, map[string]interface{}{"language": f.Language})
	}
	if f.Source != "" {
		clauses = append(clauses, map[string]interface{}{"source": f.Source})
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return map[string]interface{}{"$and": clauses}
}

// KnowledgeRepositoryError represents errors from the knowledge repository
type KnowledgeRepositoryError struct {
	Operation string
	Err       error
	Message   string
	NotFound  bool
}

func (e *KnowledgeRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Operation + ": " + e.Err.Error()
	}
	return e.Operation + ": unknown error"
}

func (e *KnowledgeRepositoryError) Unwrap() error {
	return e.Err
}

// NewKnowledgeRepositoryError creates a new knowledge repository error
func NewKnowledgeRepositoryError(operation string, err error, message string) *KnowledgeRepositoryError {
	return &KnowledgeRepositoryError{
		Operation: operation,
		Err:       err,
		Message:   message,
	}
}

// KnowledgeDocumentNotFoundError indicates no chunks exist for a source document
func KnowledgeDocumentNotFoundError(source string) error {
	return &KnowledgeRepositoryError{
		Operation: "delete_document",
		Message:   "document not found: " + source,
		NotFound:  true,
	}
}
