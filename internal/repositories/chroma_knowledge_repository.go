package repositories

import (
	"context"
	"fmt"

	"support-agent/internal/db"
	"support-agent/internal/models"
)

// ChromaKnowledgeRepository implements KnowledgeRepository using ChromaDB
type ChromaKnowledgeRepository struct {
	client     *db.ChromaDBClient
	collection string
}

// NewChromaKnowledgeRepository creates a new ChromaDB-backed knowledge repository.
// The collection is created on first use if it does not exist.
func NewChromaKnowledgeRepository(client *db.ChromaDBClient, collection string) KnowledgeRepository {
	return &ChromaKnowledgeRepository{
		client:     client,
		collection: collection,
	}
}

// SimilaritySearch returns the topK chunks nearest to the query embedding.
// Scores are cosine similarities derived from ChromaDB distances, so higher
// is better; results keep ChromaDB's descending score order.
func (r *ChromaKnowledgeRepository) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filters *SearchFilters) ([]*models.DocumentChunk, error) {
	resp, err := r.client.Query(ctx, r.collection, [][]float32{queryEmbedding}, topK, filters.ToWhere(), nil)
	if err != nil {
		return nil, models.NewRetrievalUnavailableError("chromadb", err)
	}
	return r.toChunks(resp), nil
}

// LexicalSearch returns chunks whose document text contains the term,
// ranked by embedding similarity within that subset.
func (r *ChromaKnowledgeRepository) LexicalSearch(ctx context.Context, queryEmbedding []float32, term string, topK int, filters *SearchFilters) ([]*models.DocumentChunk, error) {
	if term == "" {
		return []*models.DocumentChunk{}, nil
	}
	whereDocument := map[string]interface{}{"$contains": term}
	resp, err := r.client.Query(ctx, r.collection, [][]float32{queryEmbedding}, topK, filters.ToWhere(), whereDocument)
	if err != nil {
		return nil, models.NewRetrievalUnavailableError("chromadb", err)
	}
	return r.toChunks(resp), nil
}

func (r *ChromaKnowledgeRepository) toChunks(resp *db.QueryResponse) []*models.DocumentChunk {
	if len(resp.IDs) == 0 {
		return []*models.DocumentChunk{}
	}

	ids := resp.IDs[0]
	chunks := make([]*models.DocumentChunk, 0, len(ids))
	for i, id := range ids {
		chunk := &models.DocumentChunk{ID: id}

		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			chunk.Content = resp.Documents[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			// Cosine distance is 1 - similarity
			score := 1.0 - resp.Distances[0][i]
			if score < 0 {
				score = 0
			}
			chunk.Score = score
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			meta := resp.Metadatas[0][i]
			if v, ok := meta["source"].(string); ok {
				chunk.Source = v
			}
			if v, ok := meta["category"].(string); ok {
				chunk.Category = v
			}
			if v, ok := meta["language"].(string); ok {
				chunk.Language = v
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}

// StoreChunks stores knowledge chunks in the collection
func (r *ChromaKnowledgeRepository) StoreChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	if _, err := r.client.EnsureCollection(ctx, r.collection); err != nil {
		return NewKnowledgeRepositoryError("store_chunks", err, "")
	}

	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	metadatas := make([]map[string]interface{}, len(chunks))

	for i, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return err
		}
		ids[i] = chunk.ID
		documents[i] = chunk.Content
		embeddings[i] = chunk.Embedding
		metadatas[i] = map[string]interface{}{
			"source":   chunk.Source,
			"category": chunk.Category,
			"language": chunk.Language,
		}
	}

	if err := r.client.AddDocuments(ctx, r.collection, ids, documents, embeddings, metadatas); err != nil {
		return NewKnowledgeRepositoryError("store_chunks", err, fmt.Sprintf("failed to store %d chunks", len(chunks)))
	}

	return nil
}

// DeleteDocument removes all chunks belonging to a source document
func (r *ChromaKnowledgeRepository) DeleteDocument(ctx context.Context, source string) error {
	if source == "" {
		return NewKnowledgeRepositoryError("delete_document", nil, "source is required")
	}

	existing, err := r.client.GetDocuments(ctx, r.collection, map[string]interface{}{"source": source}, 1, 0)
	if err != nil {
		return NewKnowledgeRepositoryError("delete_document", err, "")
	}
	if len(existing.IDs) == 0 {
		return KnowledgeDocumentNotFoundError(source)
	}

	if err := r.client.DeleteWhere(ctx, r.collection, map[string]interface{}{"source": source}); err != nil {
		return NewKnowledgeRepositoryError("delete_document", err, "failed to delete document: "+source)
	}

	return nil
}

// ListChunks returns stored chunks with optional filtering and paging
func (r *ChromaKnowledgeRepository) ListChunks(ctx context.Context, filters *SearchFilters, limit, offset int) ([]*models.DocumentChunk, error) {
	resp, err := r.client.GetDocuments(ctx, r.collection, filters.ToWhere(), limit, offset)
	if err != nil {
		return nil, NewKnowledgeRepositoryError("list_chunks", err, "")
	}

	chunks := make([]*models.DocumentChunk, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		chunk := &models.DocumentChunk{ID: id}
		if i < len(resp.Documents) {
			chunk.Content = resp.Documents[i]
		}
		if i < len(resp.Metadatas) {
			meta := resp.Metadatas[i]
			if v, ok := meta["source"].(string); ok {
				chunk.Source = v
			}
			if v, ok := meta["category"].(string); ok {
				chunk.Category = v
			}
			if v, ok := meta["language"].(string); ok {
				chunk.Language = v
			}
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// CountChunks returns the total number of chunks in the knowledge base
func (r *ChromaKnowledgeRepository) CountChunks(ctx context.Context) (int, error) {
	count, err := r.client.CountCollection(ctx, r.collection)
	if err != nil {
		return 0, NewKnowledgeRepositoryError("count_chunks", err, "")
	}
	return count, nil
}

// Ping checks knowledge store connectivity
func (r *ChromaKnowledgeRepository) Ping(ctx context.Context) error {
	return r.client.Heartbeat(ctx)
}

// Close releases client resources
func (r *ChromaKnowledgeRepository) Close() error {
	r.client.Close()
	return nil
}
