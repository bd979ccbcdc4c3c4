package services

import (
	"fmt"
	"log"
	"strings"

	"support-agent/internal/config"
	"support-agent/internal/models"
)

// ContextAssembler builds the single bounded prompt for a turn. It owns all
// token accounting: every piece of text that reaches the LLM is counted
// here, in a fixed allocation order, and the assembled context never
// exceeds the budget minus the reserved response headroom.
//
// Allocation order: system prompt, recent messages, rolling summary,
// retrieved chunks. Chunks are included whole in rank order; the first
// chunk that does not fit ends chunk allocation.
type ContextAssembler struct {
	tokens   TokenCounter
	settings config.RAGSettings
	logger   *log.Logger
}

// NewContextAssembler creates a new context assembler
func NewContextAssembler(tokens TokenCounter, settings config.RAGSettings, logger *log.Logger) *ContextAssembler {
	return &ContextAssembler{
		tokens:   tokens,
		settings: settings,
		logger:   logger,
	}
}

// Assemble builds the prompt context for one turn. The user message is
// always included; history is trimmed newest-first when the budget is
// tight. A system prompt that cannot fit at all is a configuration fault
// and returns BudgetInfeasible.
func (a *ContextAssembler) Assemble(
	systemPrompt string,
	session *models.ConversationSession,
	chunks []*models.DocumentChunk,
	userMsg models.Message,
) (*models.PromptContext, error) {
	budget := models.TokenBudget{
		MaxTokens:           a.settings.MaxContextTokens,
		ReservedForResponse: a.settings.ReservedResponseTokens,
	}

	sysTokens := a.tokens.CountTokens(systemPrompt)
	if sysTokens+budget.ReservedForResponse > budget.MaxTokens {
		return nil, &models.BudgetInfeasibleError{
			MaxTokens:      budget.MaxTokens,
			SystemTokens:   sysTokens,
			ReservedTokens: budget.ReservedForResponse,
		}
	}
	budget.SystemPromptTokens = sysTokens

	messages := a.allocateMessages(session, userMsg, &budget)
	summary := a.allocateSummary(session, &budget)
	used := a.allocateChunks(chunks, &budget)

	fullPrompt := a.composeSystemPrompt(systemPrompt, summary, used)

	ctx := &models.PromptContext{
		SystemPrompt: fullPrompt,
		Messages:     messages,
		Summary:      summary,
		ChunksUsed:   used,
		Budget:       budget,
	}

	if err := budget.Validate(); err != nil {
		// Accounting bug, not a data condition
		return nil, err
	}

	a.logger.Printf("Assembled context: %d msgs, %d chunks, %d/%d tokens used",
		len(messages), len(used), budget.UsedTokens(), budget.MaxTokens)

	return ctx, nil
}

// allocateMessages picks the recent history plus the current user message.
// It walks newest to oldest so the freshest turns survive a tight budget,
// then restores chronological order.
func (a *ContextAssembler) allocateMessages(session *models.ConversationSession, userMsg models.Message, budget *models.TokenBudget) []models.Message {
	history := session.Messages
	// Skip the span already folded into the rolling summary
	if session.Summary != nil && session.Summary.CoversMessages < len(history) {
		history = history[session.Summary.CoversMessages:]
	} else if session.Summary != nil {
		history = nil
	}
	if len(history) > a.settings.MaxConversationMessages {
		history = history[len(history)-a.settings.MaxConversationMessages:]
	}

	// The current user message is non-negotiable
	selected := []models.Message{userMsg}
	cost := a.tokens.CountMessage(userMsg)
	budget.ConversationTokens += cost

	for i := len(history) - 1; i >= 0; i-- {
		cost := a.tokens.CountMessage(history[i])
		if !budget.CanAdd(cost) {
			break
		}
		selected = append(selected, history[i])
		budget.ConversationTokens += cost
	}

	// Reverse into chronological order
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}

func (a *ContextAssembler) allocateSummary(session *models.ConversationSession, budget *models.TokenBudget) *models.ConversationSummary {
	if session.Summary == nil || session.Summary.Text == "" {
		return nil
	}
	cost := a.tokens.CountTokens(summarySection(session.Summary))
	if !budget.CanAdd(cost) {
		a.logger.Printf("Dropping rolling summary from context: %d tokens do not fit", cost)
		return nil
	}
	budget.ConversationTokens += cost
	return session.Summary
}

func (a *ContextAssembler) allocateChunks(chunks []*models.DocumentChunk, budget *models.TokenBudget) []*models.DocumentChunk {
	used := make([]*models.DocumentChunk, 0, len(chunks))
	for _, chunk := range chunks {
		cost := a.tokens.CountTokens(chunkSection(len(used), chunk))
		if !budget.CanAdd(cost) {
			break
		}
		used = append(used, chunk)
		budget.RetrievedContextTokens += cost
	}
	return used
}

// composeSystemPrompt renders the exact text the budget counted
func (a *ContextAssembler) composeSystemPrompt(base string, summary *models.ConversationSummary, chunks []*models.DocumentChunk) string {
	var b strings.Builder
	b.WriteString(base)

	if summary != nil {
		b.WriteString(summarySection(summary))
	}
	for i, chunk := range chunks {
		b.WriteString(chunkSection(i, chunk))
	}

	return b.String()
}

func summarySection(summary *models.ConversationSummary) string {
	var b strings.Builder
	b.WriteString("\n\nConversation so far (summarized):\n")
	b.WriteString(summary.Text)
	if len(summary.KeyTopics) > 0 {
		b.WriteString("\nKey topics: ")
		b.WriteString(strings.Join(summary.KeyTopics, ", "))
	}
	if len(summary.ActionItems) > 0 {
		b.WriteString("\nOpen action items: ")
		b.WriteString(strings.Join(summary.ActionItems, "; "))
	}
	return b.String()
}

func chunkSection(index int, chunk *models.DocumentChunk) string {
	return fmt.Sprintf("\n\n[Source %d: %s | %s]\n%s", index+1, chunk.Source, chunk.Category, chunk.Content)
}
