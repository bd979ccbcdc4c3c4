package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"support-agent/internal/config"
	"support-agent/internal/models"
)

// TurnOutcome is the arbiter's verdict for a scored draft
type TurnOutcome string

const (
	OutcomeRespond  TurnOutcome = "respond"
	OutcomeClarify  TurnOutcome = "clarify"
	OutcomeEscalate TurnOutcome = "escalate"
)

// ScoredDraft is a generated response with its confidence breakdown and
// verified citations
type ScoredDraft struct {
	Content    string
	Confidence float64
	Grounding  float64
	Sources    []models.SourceCitation
}

// sourceMarker matches explicit [Source N] references in a draft
var sourceMarker = regexp.MustCompile(`\[Source (\d+)[^\]]*\]`)

// ResponseArbiter turns an assembled prompt into a final verdict. Every
// draft passes through scoring before anything reaches the customer: a
// confidence blend over grounding, source relevance and session sentiment,
// then a threshold decision between responding, clarifying and escalating.
type ResponseArbiter struct {
	llm      LLMProvider
	settings config.AgentSettings
	logger   *log.Logger
}

// NewResponseArbiter creates a new response arbiter
func NewResponseArbiter(llm LLMProvider, settings config.AgentSettings, logger *log.Logger) *ResponseArbiter {
	return &ResponseArbiter{
		llm:      llm,
		settings: settings,
		logger:   logger,
	}
}

// Draft generates a response for the assembled context, retrying transient
// provider errors with exponential backoff. Timeouts are not retried; the
// turn deadline owns that budget.
func (a *ResponseArbiter) Draft(ctx context.Context, promptCtx *models.PromptContext, temperature float64, maxTokens int) (*GenerationResult, error) {
	req := GenerationRequest{
		SystemPrompt: promptCtx.SystemPrompt,
		Messages:     promptCtx.Messages,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}

	var result *GenerationResult
	backoff := retry.WithMaxRetries(uint64(a.settings.MaxLLMRetries), retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := a.llm.Generate(ctx, req)
		if err != nil {
			var provErr *models.ProviderError
			if errors.As(err, &provErr) && provErr.Timeout {
				return err
			}
			a.logger.Printf("Draft attempt failed, retrying: %v", err)
			return retry.RetryableError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DraftStream is the streaming variant of Draft. No retry: once deltas
// have been sent downstream the turn cannot be transparently replayed.
func (a *ResponseArbiter) DraftStream(ctx context.Context, promptCtx *models.PromptContext, temperature float64, maxTokens int, onDelta func(string)) (*GenerationResult, error) {
	return a.llm.GenerateStream(ctx, GenerationRequest{
		SystemPrompt: promptCtx.SystemPrompt,
		Messages:     promptCtx.Messages,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}, onDelta)
}

// Score computes the confidence blend and resolves citations. A draft
// citing a source outside the assembled context is a grounding violation
// and never reaches the customer.
func (a *ResponseArbiter) Score(draft *GenerationResult, promptCtx *models.PromptContext, sessionSentiment float64) (*ScoredDraft, error) {
	sources, err := a.resolveCitations(draft.Content, promptCtx)
	if err != nil {
		return nil, err
	}

	grounding := a.groundingScore(draft, promptCtx)
	confidence := a.blend(grounding, meanRelevance(sources), sessionSentiment)

	return &ScoredDraft{
		Content:    stripSourceMarkers(draft.Content),
		Confidence: confidence,
		Grounding:  grounding,
		Sources:    sources,
	}, nil
}

// Decide maps a scored draft and session sentiment to the turn outcome.
// Sentiment is checked first: an angry customer goes to a human even when
// the draft is confident.
func (a *ResponseArbiter) Decide(confidence, sessionSentiment float64) (TurnOutcome, models.EscalationReason) {
	if sessionSentiment <= a.settings.EscalationSentimentThreshold {
		return OutcomeEscalate, models.EscalationNegativeSentiment
	}
	if confidence >= a.settings.ConfidenceThreshold {
		return OutcomeRespond, ""
	}
	if confidence >= a.settings.ClarifyBand {
		return OutcomeClarify, ""
	}
	return OutcomeEscalate, models.EscalationLowConfidence
}

// resolveCitations maps [Source N] markers to the chunks the context
// actually contained. A draft with no markers cites the whole context.
func (a *ResponseArbiter) resolveCitations(content string, promptCtx *models.PromptContext) ([]models.SourceCitation, error) {
	matches := sourceMarker.FindAllStringSubmatch(content, -1)

	var cited []*models.DocumentChunk
	if len(matches) == 0 {
		cited = promptCtx.ChunksUsed
	} else {
		seen := make(map[int]bool)
		for _, m := range matches {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 || n > len(promptCtx.ChunksUsed) {
				a.logger.Printf("Draft cited source %q outside assembled context", m[0])
				return nil, &models.GroundingViolationError{ChunkID: m[1]}
			}
			if !seen[n] {
				seen[n] = true
				cited = append(cited, promptCtx.ChunksUsed[n-1])
			}
		}
	}

	sources := make([]models.SourceCitation, len(cited))
	for i, chunk := range cited {
		sources[i] = models.SourceCitation{
			ChunkID:        chunk.ID,
			Source:         chunk.Source,
			Category:       chunk.Category,
			RelevanceScore: chunk.Score,
			Snippet:        chunk.Snippet(160),
		}
	}
	return sources, nil
}

// groundingScore prefers the model's own confidence marker; otherwise it
// measures lexical overlap between the draft and its context chunks.
func (a *ResponseArbiter) groundingScore(draft *GenerationResult, promptCtx *models.PromptContext) float64 {
	if draft.SelfReportedConfidence != nil {
		return *draft.SelfReportedConfidence
	}
	if len(promptCtx.ChunksUsed) == 0 {
		return 0
	}

	contextWords := make(map[string]bool)
	for _, chunk := range promptCtx.ChunksUsed {
		for _, w := range contentWords(chunk.Content) {
			contextWords[w] = true
		}
	}

	words := contentWords(draft.Content)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if contextWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// blend is the weighted confidence formula. It is monotonic: a better
// grounding score, higher source relevance, or happier customer never
// lowers the result.
func (a *ResponseArbiter) blend(grounding, sourceRelevance, sentiment float64) float64 {
	wG := a.settings.GroundingWeight
	wS := a.settings.SourceWeight
	wT := a.settings.SentimentWeight

	// Sentiment contributes as a penalty-free [0, 1] signal
	sentimentSignal := (sentiment + 1) / 2

	total := wG + wS + wT
	if total == 0 {
		return 0
	}
	conf := (wG*grounding + wS*sourceRelevance + wT*sentimentSignal) / total
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func meanRelevance(sources []models.SourceCitation) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += float64(s.RelevanceScore)
	}
	return sum / float64(len(sources))
}

func stripSourceMarkers(content string) string {
	return strings.TrimSpace(sourceMarker.ReplaceAllString(content, ""))
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "you": true, "your": true, "we": true, "our": true, "it": true,
	"this": true, "that": true, "can": true, "will": true, "please": true,
	"have": true, "has": true, "do": true, "does": true, "if": true, "as": true,
}

func contentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	words := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) > 2 && !stopWords[w] {
			words = append(words, w)
		}
	}
	return words
}
