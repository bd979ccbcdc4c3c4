package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-agent/internal/config"
	"support-agent/internal/models"
)

func testAgentSettings() config.AgentSettings {
	return config.AgentSettings{
		ConfidenceThreshold:          0.7,
		ClarifyBand:                  0.4,
		EscalationSentimentThreshold: -0.5,
		MaxLLMRetries:                3,
		ResponseTimeout:              30 * time.Second,
		MaxResponseLength:            1500,
		GroundingWeight:              0.5,
		SourceWeight:                 0.3,
		SentimentWeight:              0.2,
	}
}

func promptContextWithChunks(chunks ...*models.DocumentChunk) *models.PromptContext {
	return &models.PromptContext{
		SystemPrompt: "You are a support assistant.",
		ChunksUsed:   chunks,
		Budget:       models.TokenBudget{MaxTokens: 4000, ReservedForResponse: 1000},
	}
}

func confidencePtr(v float64) *float64 { return &v }

func TestResponseArbiter_Draft(t *testing.T) {
	ctx := context.Background()
	promptCtx := promptContextWithChunks()

	t.Run("transient failures retry until success", func(t *testing.T) {
		llm := new(MockLLMProvider)
		llm.On("Generate", mock.Anything, mock.Anything).
			Return(nil, models.NewProviderError("llm", errors.New("502"), false)).Twice()
		llm.On("Generate", mock.Anything, mock.Anything).
			Return(&GenerationResult{Content: "Your refund arrives in 5 days."}, nil).Once()

		arbiter := NewResponseArbiter(llm, testAgentSettings(), testLogger())

		result, err := arbiter.Draft(ctx, promptCtx, 0.3, 500)
		require.NoError(t, err)
		assert.Equal(t, "Your refund arrives in 5 days.", result.Content)
		llm.AssertNumberOfCalls(t, "Generate", 3)
	})

	t.Run("timeout is not retried", func(t *testing.T) {
		llm := new(MockLLMProvider)
		llm.On("Generate", mock.Anything, mock.Anything).
			Return(nil, models.NewProviderError("llm", context.DeadlineExceeded, true))

		arbiter := NewResponseArbiter(llm, testAgentSettings(), testLogger())

		_, err := arbiter.Draft(ctx, promptCtx, 0.3, 500)
		require.Error(t, err)
		llm.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("retries exhausted surfaces the provider error", func(t *testing.T) {
		settings := testAgentSettings()
		settings.MaxLLMRetries = 1
		llm := new(MockLLMProvider)
		llm.On("Generate", mock.Anything, mock.Anything).
			Return(nil, models.NewProviderError("llm", errors.New("503"), false))

		arbiter := NewResponseArbiter(llm, settings, testLogger())

		_, err := arbiter.Draft(ctx, promptCtx, 0.3, 500)
		var provErr *models.ProviderError
		assert.ErrorAs(t, err, &provErr)
		llm.AssertNumberOfCalls(t, "Generate", 2)
	})
}

func TestResponseArbiter_Score(t *testing.T) {
	arbiter := NewResponseArbiter(new(MockLLMProvider), testAgentSettings(), testLogger())

	chunks := []*models.DocumentChunk{
		{ID: "c1", Source: "refunds.md", Category: "billing", Content: "Refunds are processed within five business days.", Score: 0.9},
		{ID: "c2", Source: "delivery.md", Category: "logistics", Content: "Islandwide delivery takes two days.", Score: 0.6},
	}

	t.Run("explicit markers resolve to cited chunks only", func(t *testing.T) {
		draft := &GenerationResult{
			Content:                "Refunds take five business days [Source 1].",
			SelfReportedConfidence: confidencePtr(0.9),
		}

		scored, err := arbiter.Score(draft, promptContextWithChunks(chunks...), 0.0)
		require.NoError(t, err)
		require.Len(t, scored.Sources, 1)
		assert.Equal(t, "c1", scored.Sources[0].ChunkID)
		assert.NotContains(t, scored.Content, "[Source")
	})

	t.Run("no markers cites the whole context", func(t *testing.T) {
		draft := &GenerationResult{
			Content:                "Refunds take five business days.",
			SelfReportedConfidence: confidencePtr(0.9),
		}

		scored, err := arbiter.Score(draft, promptContextWithChunks(chunks...), 0.0)
		require.NoError(t, err)
		assert.Len(t, scored.Sources, 2)
	})

	t.Run("out of range marker is a grounding violation", func(t *testing.T) {
		draft := &GenerationResult{Content: "See [Source 7] for details."}

		_, err := arbiter.Score(draft, promptContextWithChunks(chunks...), 0.0)
		var violation *models.GroundingViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, "7", violation.ChunkID)
	})

	t.Run("duplicate markers cite a chunk once", func(t *testing.T) {
		draft := &GenerationResult{
			Content:                "[Source 1] and again [Source 1].",
			SelfReportedConfidence: confidencePtr(0.8),
		}

		scored, err := arbiter.Score(draft, promptContextWithChunks(chunks...), 0.0)
		require.NoError(t, err)
		assert.Len(t, scored.Sources, 1)
	})

	t.Run("self reported confidence wins over lexical overlap", func(t *testing.T) {
		draft := &GenerationResult{
			Content:                "Completely unrelated text.",
			SelfReportedConfidence: confidencePtr(0.95),
		}

		scored, err := arbiter.Score(draft, promptContextWithChunks(chunks...), 0.0)
		require.NoError(t, err)
		assert.Equal(t, 0.95, scored.Grounding)
	})

	t.Run("lexical fallback rewards overlap with context", func(t *testing.T) {
		grounded := &GenerationResult{Content: "Refunds processed within five business days."}
		ungrounded := &GenerationResult{Content: "Totally invented promotional claims here."}

		scoredGrounded, err := arbiter.Score(grounded, promptContextWithChunks(chunks...), 0.0)
		require.NoError(t, err)
		scoredUngrounded, err := arbiter.Score(ungrounded, promptContextWithChunks(chunks...), 0.0)
		require.NoError(t, err)

		assert.Greater(t, scoredGrounded.Grounding, scoredUngrounded.Grounding)
	})

	t.Run("empty context grounds at zero without self report", func(t *testing.T) {
		draft := &GenerationResult{Content: "An answer with no sources."}

		scored, err := arbiter.Score(draft, promptContextWithChunks(), 0.0)
		require.NoError(t, err)
		assert.Equal(t, float64(0), scored.Grounding)
	})
}

func TestResponseArbiter_BlendMonotonicity(t *testing.T) {
	arbiter := NewResponseArbiter(new(MockLLMProvider), testAgentSettings(), testLogger())

	base := arbiter.blend(0.5, 0.5, 0.0)

	assert.GreaterOrEqual(t, arbiter.blend(0.8, 0.5, 0.0), base, "better grounding never lowers confidence")
	assert.GreaterOrEqual(t, arbiter.blend(0.5, 0.8, 0.0), base, "better sources never lower confidence")
	assert.GreaterOrEqual(t, arbiter.blend(0.5, 0.5, 0.5), base, "happier customer never lowers confidence")

	assert.LessOrEqual(t, arbiter.blend(1.0, 1.0, 1.0), 1.0)
	assert.GreaterOrEqual(t, arbiter.blend(0.0, 0.0, -1.0), 0.0)
}

func TestResponseArbiter_Decide(t *testing.T) {
	arbiter := NewResponseArbiter(new(MockLLMProvider), testAgentSettings(), testLogger())

	tests := []struct {
		name       string
		confidence float64
		sentiment  float64
		outcome    TurnOutcome
		reason     models.EscalationReason
	}{
		{"high confidence responds", 0.85, 0.0, OutcomeRespond, ""},
		{"threshold boundary responds", 0.7, 0.0, OutcomeRespond, ""},
		{"mid band clarifies", 0.55, 0.0, OutcomeClarify, ""},
		{"clarify boundary clarifies", 0.4, 0.0, OutcomeClarify, ""},
		{"low confidence escalates", 0.2, 0.0, OutcomeEscalate, models.EscalationLowConfidence},
		{"angry customer escalates despite confidence", 0.95, -0.6, OutcomeEscalate, models.EscalationNegativeSentiment},
		{"sentiment boundary escalates", 0.95, -0.5, OutcomeEscalate, models.EscalationNegativeSentiment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, reason := arbiter.Decide(tt.confidence, tt.sentiment)
			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestStripSourceMarkers(t *testing.T) {
	assert.Equal(t, "Refunds take five days.",
		stripSourceMarkers("Refunds take five days. [Source 1]"))
	assert.Equal(t, "See the policy  for details.",
		stripSourceMarkers("See the policy [Source 2: refunds.md] for details."))
	assert.Equal(t, "No markers here.", stripSourceMarkers("No markers here."))
}
