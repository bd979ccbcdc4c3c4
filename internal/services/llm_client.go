package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"support-agent/internal/models"
)

// chatMessage is the wire format for chat completion messages
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the OpenAI-compatible chat request body
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// chatCompletionResponse is the OpenAI-compatible chat response body
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// chatCompletionChunk is one SSE delta in a streamed response
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GenerationRequest carries one bounded prompt to the LLM
type GenerationRequest struct {
	SystemPrompt string
	Messages     []models.Message
	Temperature  float64
	MaxTokens    int
}

// GenerationResult is the provider's reply. SelfReportedConfidence is set
// when the model emitted a trailing confidence marker; nil otherwise.
type GenerationResult struct {
	Content                string
	SelfReportedConfidence *float64
	PromptTokens           int
	CompletionTokens       int
}

// LLMProvider generates responses from an assembled prompt context
type LLMProvider interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	GenerateStream(ctx context.Context, req GenerationRequest, onDelta func(delta string)) (*GenerationResult, error)
}

// OpenAILLMClient calls an OpenAI-compatible /chat/completions endpoint
type OpenAILLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAILLMClient creates a new chat completion client
func NewOpenAILLMClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAILLMClient {
	return &OpenAILLMClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate sends a chat completion request and returns the full response
func (c *OpenAILLMClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	body, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, models.NewProviderError("llm", err, false)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.NewProviderError("llm", err, isTimeout(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, models.NewProviderError("llm",
			fmt.Errorf("chat completion failed (status %d): %s", resp.StatusCode, string(respBody)), false)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewProviderError("llm", fmt.Errorf("failed to decode response: %w", err), false)
	}
	if len(parsed.Choices) == 0 {
		return nil, models.NewProviderError("llm", fmt.Errorf("response contained no choices"), false)
	}

	content, confidence := extractConfidenceMarker(parsed.Choices[0].Message.Content)

	return &GenerationResult{
		Content:                content,
		SelfReportedConfidence: confidence,
		PromptTokens:           parsed.Usage.PromptTokens,
		CompletionTokens:       parsed.Usage.CompletionTokens,
	}, nil
}

// GenerateStream sends a streamed chat completion request, invoking onDelta
// for each content fragment. The confidence marker is stripped from the
// final result but may pass through deltas verbatim.
func (c *OpenAILLMClient) GenerateStream(ctx context.Context, req GenerationRequest, onDelta func(string)) (*GenerationResult, error) {
	body, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, models.NewProviderError("llm", err, false)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.NewProviderError("llm", err, isTimeout(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, models.NewProviderError("llm",
			fmt.Errorf("chat completion failed (status %d): %s", resp.StatusCode, string(respBody)), false)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				full.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, models.NewProviderError("llm", err, isTimeout(err))
	}

	content, confidence := extractConfidenceMarker(full.String())
	return &GenerationResult{
		Content:                content,
		SelfReportedConfidence: confidence,
	}, nil
}

func (c *OpenAILLMClient) buildRequest(req GenerationRequest, stream bool) ([]byte, error) {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, models.NewProviderError("llm", fmt.Errorf("failed to marshal request: %w", err), false)
	}
	return body, nil
}

func (c *OpenAILLMClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

const confidenceMarker = "CONFIDENCE:"

// extractConfidenceMarker strips a trailing "CONFIDENCE: 0.x" line that the
// system prompt asks the model to emit. Values outside [0, 1] are ignored.
func extractConfidenceMarker(content string) (string, *float64) {
	trimmed := strings.TrimRight(content, " \n\t")
	idx := strings.LastIndex(trimmed, confidenceMarker)
	if idx < 0 {
		return trimmed, nil
	}

	// Marker must start its own line at the end of the response
	tail := trimmed[idx+len(confidenceMarker):]
	if strings.ContainsAny(tail, "\n") {
		return trimmed, nil
	}
	if idx > 0 && trimmed[idx-1] != '\n' {
		return trimmed, nil
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(tail), 64)
	if err != nil || val < 0 || val > 1 {
		return trimmed, nil
	}

	stripped := strings.TrimRight(trimmed[:idx], " \n\t")
	return stripped, &val
}
