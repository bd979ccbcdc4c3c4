package services

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-agent/internal/config"
	"support-agent/internal/models"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func sessionWithMessages(n int) *models.ConversationSession {
	session := models.NewConversationSession("sess-1", "cust-1")
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		session.AppendMessage(models.Message{
			ID:        fmt.Sprintf("m%d", i),
			Role:      role,
			Content:   fmt.Sprintf("message number %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return session
}

func userMessage(content string) models.Message {
	return models.Message{
		ID:        "current",
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestContextAssembler_Assemble(t *testing.T) {
	settings := config.RAGSettings{
		MaxContextTokens:        200,
		ReservedResponseTokens:  50,
		MaxConversationMessages: 20,
	}
	assembler := NewContextAssembler(fakeTokenCounter{}, settings, testLogger())

	t.Run("budget invariant holds", func(t *testing.T) {
		session := sessionWithMessages(10)
		chunks := []*models.DocumentChunk{
			{ID: "c1", Source: "faq.md", Category: "billing", Content: words(30), Score: 0.9},
			{ID: "c2", Source: "faq.md", Category: "billing", Content: words(30), Score: 0.8},
		}

		ctx, err := assembler.Assemble("You are a support assistant.", session, chunks, userMessage("where is my order"))
		require.NoError(t, err)
		assert.LessOrEqual(t, ctx.Budget.UsedTokens()+ctx.Budget.ReservedForResponse, ctx.Budget.MaxTokens)
		assert.NoError(t, ctx.Budget.Validate())
	})

	t.Run("infeasible system prompt fails fast", func(t *testing.T) {
		session := sessionWithMessages(0)

		_, err := assembler.Assemble(words(180), session, nil, userMessage("hello"))
		var infeasible *models.BudgetInfeasibleError
		require.ErrorAs(t, err, &infeasible)
		assert.Equal(t, 200, infeasible.MaxTokens)
	})

	t.Run("current user message always included", func(t *testing.T) {
		session := sessionWithMessages(40)

		ctx, err := assembler.Assemble("prompt", session, nil, userMessage("the actual question"))
		require.NoError(t, err)
		require.NotEmpty(t, ctx.Messages)
		assert.Equal(t, "current", ctx.Messages[len(ctx.Messages)-1].ID)
	})

	t.Run("history trims oldest first and stays chronological", func(t *testing.T) {
		tight := config.RAGSettings{
			MaxContextTokens:        60,
			ReservedResponseTokens:  20,
			MaxConversationMessages: 20,
		}
		a := NewContextAssembler(fakeTokenCounter{}, tight, testLogger())
		session := sessionWithMessages(10)

		ctx, err := a.Assemble("prompt", session, nil, userMessage("latest"))
		require.NoError(t, err)
		require.Greater(t, len(ctx.Messages), 1)
		assert.Less(t, len(ctx.Messages), 11, "tight budget must drop old messages")
		for i := 1; i < len(ctx.Messages); i++ {
			assert.False(t, ctx.Messages[i].Timestamp.Before(ctx.Messages[i-1].Timestamp))
		}
		// The newest history message survives, the oldest does not
		assert.Equal(t, "m9", ctx.Messages[len(ctx.Messages)-2].ID)
	})

	t.Run("summary-covered span is excluded from history", func(t *testing.T) {
		session := sessionWithMessages(10)
		session.Summary = &models.ConversationSummary{
			Text:           "Customer asked about delivery to Jurong.",
			CoversMessages: 8,
		}

		ctx, err := assembler.Assemble("prompt", session, nil, userMessage("follow up"))
		require.NoError(t, err)
		// Only m8, m9 and the current message may appear
		require.Len(t, ctx.Messages, 3)
		assert.Equal(t, "m8", ctx.Messages[0].ID)
		assert.Equal(t, "m9", ctx.Messages[1].ID)
		assert.Contains(t, ctx.SystemPrompt, session.Summary.Text)
	})

	t.Run("summary dropped when it does not fit", func(t *testing.T) {
		tight := config.RAGSettings{
			MaxContextTokens:        40,
			ReservedResponseTokens:  20,
			MaxConversationMessages: 20,
		}
		a := NewContextAssembler(fakeTokenCounter{}, tight, testLogger())
		session := sessionWithMessages(0)
		session.Summary = &models.ConversationSummary{Text: words(50), CoversMessages: 0}

		ctx, err := a.Assemble("prompt", session, nil, userMessage("hi"))
		require.NoError(t, err)
		assert.Nil(t, ctx.Summary)
		assert.NotContains(t, ctx.SystemPrompt, "w49")
	})

	t.Run("chunks stop at first non-fit in rank order", func(t *testing.T) {
		session := sessionWithMessages(0)
		chunks := []*models.DocumentChunk{
			{ID: "c1", Source: "a.md", Category: "x", Content: words(40), Score: 0.9},
			{ID: "c2", Source: "b.md", Category: "x", Content: words(200), Score: 0.8},
			{ID: "c3", Source: "c.md", Category: "x", Content: words(10), Score: 0.7},
		}

		ctx, err := assembler.Assemble("prompt", session, chunks, userMessage("question"))
		require.NoError(t, err)
		// c2 does not fit; allocation ends there even though c3 would fit
		require.Len(t, ctx.ChunksUsed, 1)
		assert.Equal(t, "c1", ctx.ChunksUsed[0].ID)
	})

	t.Run("system prompt renders what was counted", func(t *testing.T) {
		session := sessionWithMessages(0)
		chunks := []*models.DocumentChunk{
			{ID: "c1", Source: "faq.md", Category: "delivery", Content: "We deliver islandwide.", Score: 0.9},
		}

		ctx, err := assembler.Assemble("Base prompt.", session, chunks, userMessage("delivery?"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ctx.SystemPrompt, "Base prompt."))
		assert.Contains(t, ctx.SystemPrompt, "[Source 1: faq.md | delivery]")
		assert.Contains(t, ctx.SystemPrompt, "We deliver islandwide.")

		counted := ctx.Budget.SystemPromptTokens + ctx.Budget.RetrievedContextTokens
		assert.Equal(t, counted, fakeTokenCounter{}.CountTokens(ctx.SystemPrompt))
	})
}

func TestContextAssembler_RandomizedBudgets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		maxTokens := 100 + rng.Intn(400)
		reserved := 20 + rng.Intn(60)
		settings := config.RAGSettings{
			MaxContextTokens:        maxTokens,
			ReservedResponseTokens:  reserved,
			MaxConversationMessages: 20,
		}
		assembler := NewContextAssembler(fakeTokenCounter{}, settings, testLogger())

		session := sessionWithMessages(rng.Intn(25))
		var chunks []*models.DocumentChunk
		for i := 0; i < rng.Intn(8); i++ {
			chunks = append(chunks, &models.DocumentChunk{
				ID:       fmt.Sprintf("c%d", i),
				Source:   "doc.md",
				Category: "general",
				Content:  words(5 + rng.Intn(80)),
				Score:    rng.Float32(),
			})
		}

		ctx, err := assembler.Assemble("You are a support assistant.", session, chunks, userMessage(words(1+rng.Intn(10))))
		if err != nil {
			var infeasible *models.BudgetInfeasibleError
			require.ErrorAs(t, err, &infeasible, "trial %d: only infeasibility may fail", trial)
			continue
		}
		assert.LessOrEqual(t, ctx.Budget.UsedTokens()+reserved, maxTokens, "trial %d", trial)
	}
}
