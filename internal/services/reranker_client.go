package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"support-agent/internal/models"
)

// Reranker reorders a candidate pool by cross-encoder relevance to the
// query. Implementations return at most topK results.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []*models.DocumentChunk, topK int) ([]*models.DocumentChunk, error)
}

// rerankRequest is the Cohere-compatible rerank request body
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// rerankResponse is the Cohere-compatible rerank response body
type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// CohereReranker calls a Cohere-compatible /v1/rerank endpoint
type CohereReranker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewCohereReranker creates a new reranker client
func NewCohereReranker(baseURL, apiKey, model string, timeout time.Duration) *CohereReranker {
	return &CohereReranker{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Rerank scores the chunks against the query and returns the topK best,
// with chunk scores replaced by reranker relevance.
func (c *CohereReranker) Rerank(ctx context.Context, query string, chunks []*models.DocumentChunk, topK int) ([]*models.DocumentChunk, error) {
	if len(chunks) == 0 {
		return []*models.DocumentChunk{}, nil
	}

	documents := make([]string, len(chunks))
	for i, chunk := range chunks {
		documents[i] = chunk.Content
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	})
	if err != nil {
		return nil, models.NewProviderError("reranker", fmt.Errorf("failed to marshal request: %w", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/rerank", bytes.NewBuffer(body))
	if err != nil {
		return nil, models.NewProviderError("reranker", err, false)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewProviderError("reranker", err, isTimeout(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, models.NewProviderError("reranker",
			fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(respBody)), false)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewProviderError("reranker", fmt.Errorf("failed to decode response: %w", err), false)
	}

	reranked := make([]*models.DocumentChunk, 0, len(parsed.Results))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(chunks) {
			continue
		}
		chunk := chunks[result.Index]
		chunk.Score = result.RelevanceScore
		reranked = append(reranked, chunk)
		if len(reranked) == topK {
			break
		}
	}

	return reranked, nil
}
