package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"support-agent/internal/models"
	"support-agent/internal/repositories"
)

// Chunking bounds in tokens. Paragraphs are packed into chunks up to the
// target; a single oversized paragraph is split hard at the limit.
const (
	chunkTargetTokens = 300
	chunkMaxTokens    = 400
)

// KnowledgeService manages the knowledge base content: splitting source
// documents into chunks, embedding them, and storing them for retrieval.
type KnowledgeService struct {
	knowledgeRepo repositories.KnowledgeRepository
	embedder      EmbeddingProvider
	tokens        TokenCounter
	logger        *log.Logger
}

// NewKnowledgeService creates a new knowledge service
func NewKnowledgeService(
	knowledgeRepo repositories.KnowledgeRepository,
	embedder EmbeddingProvider,
	tokens TokenCounter,
	logger *log.Logger,
) *KnowledgeService {
	return &KnowledgeService{
		knowledgeRepo: knowledgeRepo,
		embedder:      embedder,
		tokens:        tokens,
		logger:        logger,
	}
}

// IngestDocument chunks, embeds and stores one source document. Returns
// the number of chunks stored.
func (s *KnowledgeService) IngestDocument(ctx context.Context, doc *models.SeedDocument) (int, error) {
	if err := doc.Validate(); err != nil {
		return 0, err
	}

	texts := s.splitChunks(doc.Content)
	if len(texts) == 0 {
		return 0, &models.ValidationError{Field: "content", Message: "document produced no chunks"}
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document %s: %w", doc.Source, err)
	}

	chunks := make([]*models.DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = &models.DocumentChunk{
			ID:        uuid.New().String(),
			Source:    doc.Source,
			Category:  doc.Category,
			Language:  doc.Language,
			Content:   text,
			Embedding: embeddings[i],
		}
	}

	if err := s.knowledgeRepo.StoreChunks(ctx, chunks); err != nil {
		return 0, err
	}

	s.logger.Printf("Ingested %s: %d chunks (%s/%s)", doc.Source, len(chunks), doc.Category, doc.Language)
	return len(chunks), nil
}

// DeleteDocument removes all chunks for a source document
func (s *KnowledgeService) DeleteDocument(ctx context.Context, source string) error {
	return s.knowledgeRepo.DeleteDocument(ctx, source)
}

// ListChunks returns stored chunks with optional filtering
func (s *KnowledgeService) ListChunks(ctx context.Context, filters *repositories.SearchFilters, limit, offset int) ([]*models.DocumentChunk, error) {
	return s.knowledgeRepo.ListChunks(ctx, filters, limit, offset)
}

// Stats returns knowledge base counters
func (s *KnowledgeService) Stats(ctx context.Context) (map[string]interface{}, error) {
	count, err := s.knowledgeRepo.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"chunk_count": count,
	}, nil
}

// splitChunks packs paragraphs into token-bounded chunks
func (s *KnowledgeService) splitChunks(content string) []string {
	paragraphs := strings.Split(content, "\n\n")

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
		currentTokens = 0
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		paraTokens := s.tokens.CountTokens(para)
		if paraTokens > chunkMaxTokens {
			flush()
			for _, piece := range s.hardSplit(para) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if currentTokens+paraTokens > chunkTargetTokens && currentTokens > 0 {
			flush()
		}
		if currentTokens > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}
	flush()

	return chunks
}

// hardSplit breaks an oversized paragraph on sentence boundaries
func (s *KnowledgeService) hardSplit(para string) []string {
	sentences := strings.SplitAfter(para, ". ")

	var pieces []string
	var current strings.Builder
	currentTokens := 0

	for _, sentence := range sentences {
		tokens := s.tokens.CountTokens(sentence)
		if currentTokens+tokens > chunkMaxTokens && currentTokens > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		current.WriteString(sentence)
		currentTokens += tokens
	}
	if text := strings.TrimSpace(current.String()); text != "" {
		pieces = append(pieces, text)
	}

	return pieces
}
