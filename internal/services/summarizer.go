package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"support-agent/internal/config"
	"support-agent/internal/models"
)

// The newest turns stay raw; only older history is folded into the summary
const keepRecentMessages = 6

// SummarizerService folds old conversation history into a rolling summary
// once a session crosses the summarization threshold. Summarization is
// idempotent over the covered span: re-running on an already covered
// history is a no-op.
type SummarizerService struct {
	llm      LLMProvider
	tokens   TokenCounter
	scrubber *PIIScrubber
	settings config.MemorySettings
	logger   *log.Logger
}

// NewSummarizerService creates a new summarizer
func NewSummarizerService(llm LLMProvider, tokens TokenCounter, scrubber *PIIScrubber, settings config.MemorySettings, logger *log.Logger) *SummarizerService {
	return &SummarizerService{
		llm:      llm,
		tokens:   tokens,
		scrubber: scrubber,
		settings: settings,
		logger:   logger,
	}
}

// summaryPayload is the JSON the model is asked to produce
type summaryPayload struct {
	Summary     string   `json:"summary"`
	KeyTopics   []string `json:"key_topics"`
	ActionItems []string `json:"action_items"`
}

// NeedsSummarization reports whether the session has enough uncovered
// history to warrant a new summarization pass
func (s *SummarizerService) NeedsSummarization(session *models.ConversationSession) bool {
	if session.MessageCount() < s.settings.SummarizationThreshold {
		return false
	}
	target := session.MessageCount() - keepRecentMessages
	return target > 0 && !session.Summary.Covers(target)
}

// Summarize folds the oldest uncovered messages into an updated rolling
// summary. The session is not mutated; the caller commits the returned
// summary together with the turn. Provider failures propagate so the
// caller can decide whether the turn survives without a fresh summary.
func (s *SummarizerService) Summarize(ctx context.Context, session *models.ConversationSession) (*models.ConversationSummary, error) {
	target := session.MessageCount() - keepRecentMessages
	if target <= 0 || session.Summary.Covers(target) {
		return session.Summary, nil
	}

	prompt := s.buildPrompt(session, target)

	result, err := s.llm.Generate(ctx, GenerationRequest{
		SystemPrompt: prompt,
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: "Produce the JSON summary now.",
		}},
		Temperature: 0.2,
		MaxTokens:   s.settings.SummaryMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	payload, err := parseSummaryPayload(result.Content)
	if err != nil {
		s.logger.Printf("Summarizer returned unparseable output: %v", err)
		return nil, models.NewProviderError("summarizer", err, false)
	}

	summary := &models.ConversationSummary{
		Text:           payload.Summary,
		KeyTopics:      payload.KeyTopics,
		ActionItems:    payload.ActionItems,
		TokenCount:     s.tokens.CountTokens(payload.Summary),
		CoversMessages: target,
	}

	s.logger.Printf("Summarized %d messages into %d tokens for session %s",
		target, summary.TokenCount, session.SessionID)

	return summary, nil
}

func (s *SummarizerService) buildPrompt(session *models.ConversationSession, target int) string {
	var b strings.Builder
	b.WriteString("You summarize customer support conversations. ")
	b.WriteString("Reply with a single JSON object: {\"summary\": string, \"key_topics\": [string], \"action_items\": [string]}. ")
	b.WriteString("Keep the summary factual and under ")
	fmt.Fprintf(&b, "%d", s.settings.SummaryMaxTokens)
	b.WriteString(" tokens. Do not invent details.\n")

	if session.Summary != nil && session.Summary.Text != "" {
		b.WriteString("\nExisting summary of even earlier turns:\n")
		b.WriteString(session.Summary.Text)
		b.WriteString("\nFold it into the new summary.\n")
	}

	b.WriteString("\nConversation to summarize:\n")
	for _, msg := range session.Messages[:target] {
		// Identifiers never reach the provider or the stored summary
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, s.scrubber.Scrub(msg.Content))
	}

	return b.String()
}

// parseSummaryPayload tolerates markdown code fences around the JSON
func parseSummaryPayload(content string) (*summaryPayload, error) {
	cleaned := strings.TrimSpace(content)
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("invalid summary JSON: %w", err)
	}
	if payload.Summary == "" {
		return nil, fmt.Errorf("summary JSON missing summary text")
	}
	return &payload, nil
}
