package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"support-agent/internal/config"
	"support-agent/internal/models"
	"support-agent/internal/repositories"
)

// RetrievalService runs the two-stage retrieval pipeline: a broad hybrid
// candidate pool from the knowledge store, then an optional reranking pass
// down to the final set handed to the context assembler.
type RetrievalService struct {
	knowledgeRepo repositories.KnowledgeRepository
	embedder      EmbeddingProvider
	reranker      Reranker
	settings      config.RAGSettings
	logger        *log.Logger
	cache         *retrievalCache
}

// NewRetrievalService creates a new retrieval service. A nil reranker
// disables the second stage; the pipeline then truncates the blended pool.
func NewRetrievalService(
	knowledgeRepo repositories.KnowledgeRepository,
	embedder EmbeddingProvider,
	reranker Reranker,
	settings config.RAGSettings,
	logger *log.Logger,
) *RetrievalService {
	return &RetrievalService{
		knowledgeRepo: knowledgeRepo,
		embedder:      embedder,
		reranker:      reranker,
		settings:      settings,
		logger:        logger,
		cache:         newRetrievalCache(5 * time.Minute),
	}
}

// Retrieve returns the final ranked chunks for a query. An unreachable
// embedding provider or knowledge store surfaces as RetrievalUnavailable;
// an empty result is a valid outcome, not an error.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, filters *repositories.SearchFilters) (*models.RetrievalResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(query) == "" {
		return &models.RetrievalResult{Chunks: []*models.DocumentChunk{}, Query: query}, nil
	}

	if cached := s.cache.Get(query, filters); cached != nil {
		s.logger.Printf("Retrieval cache hit for query: %.40q", query)
		return cached, nil
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Printf("Query embedding failed: %v", err)
		return nil, models.NewRetrievalUnavailableError("embedding", err)
	}

	pool, err := s.buildCandidatePool(ctx, query, queryEmbedding, filters)
	if err != nil {
		return nil, err
	}

	// Min-score floor applies to the blended pool before reranking
	filtered := pool[:0]
	for _, chunk := range pool {
		if chunk.Score >= s.settings.MinScore {
			filtered = append(filtered, chunk)
		}
	}

	final, reranked := s.rerankPool(ctx, query, filtered)

	result := &models.RetrievalResult{
		Chunks:           final,
		Query:            query,
		RetrievalTimeMs:  time.Since(startTime).Seconds() * 1000,
		RerankingApplied: reranked,
	}

	s.cache.Set(query, filters, result)
	return result, nil
}

// buildCandidatePool merges semantic and lexical search results into one
// deduplicated pool ordered by the alpha-blended score. Ties keep semantic
// pool order so repeated queries rank identically.
func (s *RetrievalService) buildCandidatePool(ctx context.Context, query string, queryEmbedding []float32, filters *repositories.SearchFilters) ([]*models.DocumentChunk, error) {
	topK := s.settings.RetrievalTopK
	alpha := float32(s.settings.HybridAlpha)

	semantic, err := s.knowledgeRepo.SimilaritySearch(ctx, queryEmbedding, topK, filters)
	if err != nil {
		s.logger.Printf("Similarity search failed: %v", err)
		return nil, err
	}

	merged := make([]*models.DocumentChunk, 0, len(semantic))
	semScores := make(map[string]float32, len(semantic))
	poolRank := make(map[string]int, len(semantic))
	for i, chunk := range semantic {
		merged = append(merged, chunk)
		semScores[chunk.ID] = chunk.Score
		poolRank[chunk.ID] = i
	}

	// Pure semantic blending skips the lexical leg entirely
	if alpha < 1.0 {
		term := salientTerm(query)
		lexical, err := s.knowledgeRepo.LexicalSearch(ctx, queryEmbedding, term, topK, filters)
		if err != nil {
			s.logger.Printf("Lexical search failed: %v", err)
			return nil, err
		}
		// Chunks the semantic leg missed join the pool with no semantic score
		for i, chunk := range lexical {
			if _, ok := poolRank[chunk.ID]; !ok {
				merged = append(merged, chunk)
				poolRank[chunk.ID] = topK + i
			}
		}
	}

	// TF-IDF over the pool supplies the lexical component of the blend
	scorer := newLexicalScorer(merged)
	for i, chunk := range merged {
		chunk.Score = alpha*semScores[chunk.ID] + (1-alpha)*scorer.score(query, i)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return poolRank[merged[i].ID] < poolRank[merged[j].ID]
	})

	return merged, nil
}

// rerankPool applies the optional second stage. A reranker failure falls
// back to the blended order rather than failing the turn.
func (s *RetrievalService) rerankPool(ctx context.Context, query string, pool []*models.DocumentChunk) ([]*models.DocumentChunk, bool) {
	topK := s.settings.RerankTopK
	if len(pool) > 0 && s.reranker != nil {
		reranked, err := s.reranker.Rerank(ctx, query, pool, topK)
		if err == nil {
			return reranked, true
		}
		s.logger.Printf("Reranking failed, falling back to blended order: %v", err)
	}

	if len(pool) > topK {
		pool = pool[:topK]
	}
	return pool, false
}

// Ping checks the retrieval backend
func (s *RetrievalService) Ping(ctx context.Context) error {
	return s.knowledgeRepo.Ping(ctx)
}

// CacheStats exposes retrieval cache counters for the stats endpoint
func (s *RetrievalService) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}

// salientTerm picks the longest non-trivial word as the lexical filter term
func salientTerm(query string) string {
	best := ""
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if len(word) > len(best) && len(word) > 3 {
			best = word
		}
	}
	return best
}

// ============================================================================

type retrievalCache struct {
	mu      sync.RWMutex
	entries map[string]*retrievalCacheEntry
	ttl     time.Duration
	hits    int64
	misses  int64
}

type retrievalCacheEntry struct {
	result    *models.RetrievalResult
	expiresAt time.Time
}

func newRetrievalCache(ttl time.Duration) *retrievalCache {
	cache := &retrievalCache{
		entries: make(map[string]*retrievalCacheEntry),
		ttl:     ttl,
	}

	// Start cleanup goroutine
	go cache.cleanupLoop()

	return cache
}

func (c *retrievalCache) cacheKey(query string, filters *repositories.SearchFilters) string {
	if filters == nil {
		filters = &repositories.SearchFilters{}
	}
	return fmt.Sprintf("%s:%s:%s:%s", query, filters.Category, filters.Language, filters.Source)
}

func (c *retrievalCache) Get(query string, filters *repositories.SearchFilters) *models.RetrievalResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[c.cacheKey(query, filters)]
	if !exists || time.Now().After(entry.expiresAt) {
		c.misses++
		return nil
	}

	c.hits++
	// Each hit gets its own copy; callers own their result and may
	// mutate chunk scores without corrupting the cached original.
	return entry.result.Clone()
}

func (c *retrievalCache) Set(query string, filters *repositories.SearchFilters, result *models.RetrievalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The cache keeps its own copy; the caller still owns the result it
	// was handed back.
	c.entries[c.cacheKey(query, filters)] = &retrievalCacheEntry{
		result:    result.Clone(),
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *retrievalCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hitRate := float64(0)
	total := c.hits + c.misses
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"hits":     c.hits,
		"misses":   c.misses,
		"size":     len(c.entries),
		"hit_rate": hitRate,
	}
}

func (c *retrievalCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *retrievalCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
