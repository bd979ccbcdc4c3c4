package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-agent/internal/config"
	"support-agent/internal/models"
)

type engineFixture struct {
	engine    *ConversationEngine
	sessions  *fakeSessionRepo
	profiles  *fakeProfileRepo
	locker    *fakeLocker
	repo      *MockKnowledgeRepository
	embedder  *MockEmbeddingProvider
	llm       *MockLLMProvider
	ticketing *MockTicketingClient
	settings  *config.Settings
}

func newEngineFixture() *engineFixture {
	settings := &config.Settings{
		LLM: config.LLMSettings{
			Temperature: 0.3,
			MaxTokens:   500,
		},
		RAG: config.RAGSettings{
			RetrievalTopK:           10,
			RerankTopK:              3,
			HybridAlpha:             1.0,
			MinScore:                0.5,
			MaxContextTokens:        400,
			MaxConversationMessages: 20,
			ReservedResponseTokens:  100,
		},
		Memory: config.MemorySettings{
			SummarizationThreshold:    15,
			SummaryMaxTokens:          500,
			SessionTTL:                30 * time.Minute,
			CustomerDataRetentionDays: 30,
			SessionLockWait:           time.Second,
		},
		Agent: config.AgentSettings{
			ConfidenceThreshold:          0.7,
			ClarifyBand:                  0.4,
			EscalationSentimentThreshold: -0.5,
			MaxLLMRetries:                0,
			ResponseTimeout:              10 * time.Second,
			MaxResponseLength:            1500,
			GroundingWeight:              0.5,
			SourceWeight:                 0.3,
			SentimentWeight:              0.2,
		},
		Business: config.BusinessSettings{
			Name:         "Test Shop",
			Timezone:     "Asia/Singapore",
			HoursStart:   "09:00",
			HoursEnd:     "18:00",
			Days:         []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
			SupportEmail: "help@example.sg",
			SupportPhone: "+65 6123 4567",
		},
	}

	logger := testLogger()
	f := &engineFixture{
		sessions:  newFakeSessionRepo(),
		profiles:  newFakeProfileRepo(),
		locker:    newFakeLocker(),
		repo:      new(MockKnowledgeRepository),
		embedder:  new(MockEmbeddingProvider),
		llm:       new(MockLLMProvider),
		ticketing: new(MockTicketingClient),
		settings:  settings,
	}

	retriever := NewRetrievalService(f.repo, f.embedder, nil, settings.RAG, logger)
	assembler := NewContextAssembler(fakeTokenCounter{}, settings.RAG, logger)
	arbiter := NewResponseArbiter(f.llm, settings.Agent, logger)
	summarizer := NewSummarizerService(f.llm, fakeTokenCounter{}, NewPIIScrubber(), settings.Memory, logger)

	f.engine = NewConversationEngine(
		f.sessions, f.profiles, f.locker,
		retriever, assembler, arbiter, summarizer,
		f.ticketing, NewBusinessContext(settings.Business),
		settings, logger,
	)
	return f
}

func (f *engineFixture) expectRetrieval(score float32) {
	embedding := []float32{0.1, 0.2}
	f.embedder.On("EmbedQuery", mock.Anything, mock.Anything).Return(embedding, nil)
	f.repo.On("SimilaritySearch", mock.Anything, embedding, 10, mock.Anything).Return([]*models.DocumentChunk{
		{ID: "c1", Source: "faq.md", Category: "orders", Language: "en", Content: "Orders ship within two business days islandwide.", Score: score},
	}, nil)
}

func (f *engineFixture) expectDraft(content string, confidence float64) {
	f.llm.On("Generate", mock.Anything, mock.Anything).Return(&GenerationResult{
		Content:                content,
		SelfReportedConfidence: confidencePtr(confidence),
	}, nil)
}

func TestConversationEngine_HandleTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("confident draft responds with sources", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.9)
		f.expectDraft("Your order ships within two business days [Source 1].", 0.9)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID:  "sess-1",
			CustomerID: "cust-1",
			Message:    "where is my order",
		})
		require.NoError(t, err)

		assert.False(t, resp.Escalated)
		assert.False(t, resp.RequiresFollowup)
		assert.NotContains(t, resp.Content, "[Source")
		require.Len(t, resp.Sources, 1)
		assert.Equal(t, "c1", resp.Sources[0].ChunkID)
		assert.Equal(t, models.IntentOrderStatus, resp.DetectedIntent)
		assert.Equal(t, "en", resp.DetectedLanguage)
		assert.NotEmpty(t, resp.SuggestedActions)

		// The turn is committed as one user plus one assistant message
		session, err := f.sessions.LoadSession(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, session.Messages, 2)
		assert.Equal(t, models.RoleUser, session.Messages[0].Role)
		assert.Equal(t, models.RoleAssistant, session.Messages[1].Role)
		require.NotNil(t, session.Messages[1].Confidence)

		// Profile bookkeeping happened
		profile, err := f.profiles.GetProfile(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, 1, profile.InteractionCount)
	})

	t.Run("mid band asks for clarification", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.6)
		f.expectDraft("Possibly something about orders.", 0.5)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-2",
			Message:   "can you help me with something",
		})
		require.NoError(t, err)

		assert.False(t, resp.Escalated)
		assert.True(t, resp.RequiresFollowup)
		assert.Equal(t, clarifyTemplate("en"), resp.Content)
	})

	t.Run("low confidence escalates with ticket", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.55)
		f.expectDraft("Not sure about this at all.", 0.1)
		f.ticketing.On("FileTicket", mock.Anything, mock.MatchedBy(func(r *models.EscalationRecord) bool {
			return r.Reason == models.EscalationLowConfidence
		})).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-3",
			Message:   "can you help me with something",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationLowConfidence, resp.EscalationReason)
		assert.Contains(t, resp.Content, "(ticket TKT-")
		f.ticketing.AssertExpectations(t)

		session, err := f.sessions.LoadSession(ctx, "sess-3")
		require.NoError(t, err)
		assert.Equal(t, models.SessionEscalated, session.Status)
	})

	t.Run("hostile tone escalates despite confident draft", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.9)
		f.expectDraft("A perfectly grounded answer [Source 1].", 0.95)
		f.ticketing.On("FileTicket", mock.Anything, mock.MatchedBy(func(r *models.EscalationRecord) bool {
			return r.Reason == models.EscalationNegativeSentiment
		})).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-4",
			Message:   "This is terrible, awful, horrible and useless. I hate this, furious, worst service ever.",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationNegativeSentiment, resp.EscalationReason)
	})

	t.Run("human request escalates without generation", func(t *testing.T) {
		f := newEngineFixture()
		f.ticketing.On("FileTicket", mock.Anything, mock.Anything).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-5",
			Message:   "I want to talk to a human please",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationExplicitRequest, resp.EscalationReason)
		f.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		f.embedder.AssertNotCalled(t, "EmbedQuery", mock.Anything, mock.Anything)
	})

	t.Run("sensitive topic escalates without generation", func(t *testing.T) {
		f := newEngineFixture()
		f.ticketing.On("FileTicket", mock.Anything, mock.MatchedBy(func(r *models.EscalationRecord) bool {
			return r.Reason == models.EscalationSensitiveTopic && r.Priority == "urgent"
		})).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-6",
			Message:   "I will report this to the police if you do not respond",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationSensitiveTopic, resp.EscalationReason)
		f.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("language override picks the reply template", func(t *testing.T) {
		f := newEngineFixture()
		f.ticketing.On("FileTicket", mock.Anything, mock.Anything).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-7",
			Message:   "I want to talk to a human",
			Language:  "zh",
		})
		require.NoError(t, err)

		assert.Equal(t, "zh", resp.DetectedLanguage)
		assert.Contains(t, resp.Content, "工单号")
	})

	t.Run("generation failure escalates instead of dropping the turn", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.9)
		f.llm.On("Generate", mock.Anything, mock.Anything).
			Return(nil, models.NewProviderError("llm", errors.New("500"), false))
		f.ticketing.On("FileTicket", mock.Anything, mock.MatchedBy(func(r *models.EscalationRecord) bool {
			return r.Reason == models.EscalationRepeatedFailure
		})).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-8",
			Message:   "where is my order",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationRepeatedFailure, resp.EscalationReason)

		// The failed attempt is still part of the conversation record
		session, err := f.sessions.LoadSession(ctx, "sess-8")
		require.NoError(t, err)
		assert.Len(t, session.Messages, 2)
	})

	t.Run("turn deadline expiry still commits the escalation", func(t *testing.T) {
		f := newEngineFixture()
		f.settings.Agent.ResponseTimeout = 50 * time.Millisecond
		f.expectRetrieval(0.9)

		// Generation outlives the turn deadline; the error surfaces only
		// once the per-turn context has already expired.
		f.llm.On("Generate", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				genCtx := args.Get(0).(context.Context)
				<-genCtx.Done()
			}).
			Return(nil, models.NewProviderError("llm", context.DeadlineExceeded, true))
		f.ticketing.On("FileTicket", mock.MatchedBy(func(ticketCtx context.Context) bool {
			return ticketCtx.Err() == nil
		}), mock.MatchedBy(func(r *models.EscalationRecord) bool {
			return r.Reason == models.EscalationRepeatedFailure
		})).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-timeout",
			Message:   "where is my order",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationRepeatedFailure, resp.EscalationReason)
		f.ticketing.AssertExpectations(t)

		// The write-back ran on a live context even though the turn
		// deadline had fired.
		session, err := f.sessions.LoadSession(ctx, "sess-timeout")
		require.NoError(t, err)
		assert.Len(t, session.Messages, 2)
		assert.Equal(t, models.SessionEscalated, session.Status)
	})

	t.Run("personal identifiers masked before provider and store", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.9)

		var seen []GenerationRequest
		f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerationRequest) bool {
			seen = append(seen, req)
			return true
		})).Return(&GenerationResult{
			Content:                "Your order ships within two business days [Source 1].",
			SelfReportedConfidence: confidencePtr(0.9),
		}, nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-pii",
			Message:   "about my order, my ic is S7654321A and my email is jane@example.com",
		})
		require.NoError(t, err)
		assert.False(t, resp.Escalated)

		// Nothing the provider saw carries a raw identifier
		require.NotEmpty(t, seen)
		for _, req := range seen {
			for _, msg := range req.Messages {
				assert.NotContains(t, msg.Content, "S7654321A")
				assert.NotContains(t, msg.Content, "jane@example.com")
			}
		}

		// The stored user message is the masked one
		session, err := f.sessions.LoadSession(ctx, "sess-pii")
		require.NoError(t, err)
		require.Len(t, session.Messages, 2)
		assert.Contains(t, session.Messages[0].Content, "[NRIC_MASKED]")
		assert.Contains(t, session.Messages[0].Content, "[EMAIL_MASKED]")
		assert.NotContains(t, session.Messages[0].Content, "S7654321A")
	})

	t.Run("grounding violation escalates and discards the draft", func(t *testing.T) {
		f := newEngineFixture()
		f.expectRetrieval(0.9)
		f.llm.On("Generate", mock.Anything, mock.Anything).Return(&GenerationResult{
			Content: "According to [Source 9] you are owed nothing.",
		}, nil)
		f.ticketing.On("FileTicket", mock.Anything, mock.Anything).Return(nil)

		resp, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-9",
			Message:   "where is my order",
		})
		require.NoError(t, err)

		assert.True(t, resp.Escalated)
		assert.Equal(t, models.EscalationLowConfidence, resp.EscalationReason)
		assert.NotContains(t, resp.Content, "owed nothing")
	})

	t.Run("retrieval outage fails the turn uncommitted", func(t *testing.T) {
		f := newEngineFixture()
		f.embedder.On("EmbedQuery", mock.Anything, mock.Anything).
			Return(nil, errors.New("connection refused"))

		_, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-10",
			Message:   "where is my order",
		})
		var unavailable *models.RetrievalUnavailableError
		require.ErrorAs(t, err, &unavailable)

		session, err := f.sessions.LoadSession(ctx, "sess-10")
		require.NoError(t, err)
		assert.Empty(t, session.Messages, "failed turn must not be committed")
	})

	t.Run("busy session reports session busy", func(t *testing.T) {
		f := newEngineFixture()
		f.locker.busy = true

		_, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-11",
			Message:   "hello there friend",
		})
		var busy *models.SessionBusyError
		require.ErrorAs(t, err, &busy)
		assert.Equal(t, "sess-11", busy.SessionID)
	})

	t.Run("escalated session rejects further turns", func(t *testing.T) {
		f := newEngineFixture()
		session := models.NewConversationSession("sess-12", "cust-1")
		session.Status = models.SessionEscalated
		require.NoError(t, f.sessions.CreateSession(ctx, session))

		_, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-12",
			Message:   "any update on my case",
		})
		var escalated *models.SessionEscalatedError
		require.ErrorAs(t, err, &escalated)
	})

	t.Run("resolved session reopens on a new message", func(t *testing.T) {
		f := newEngineFixture()
		session := models.NewConversationSession("sess-13", "")
		session.Status = models.SessionResolved
		require.NoError(t, f.sessions.CreateSession(ctx, session))

		f.expectRetrieval(0.9)
		f.expectDraft("Answer [Source 1].", 0.9)

		_, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-13",
			Message:   "where is my order",
		})
		require.NoError(t, err)

		stored, err := f.sessions.LoadSession(ctx, "sess-13")
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, stored.Status)
	})

	t.Run("failed write back fails the whole turn", func(t *testing.T) {
		f := newEngineFixture()
		f.sessions.failSaves = true
		f.expectRetrieval(0.9)
		f.expectDraft("Answer [Source 1].", 0.9)

		_, err := f.engine.HandleTurn(ctx, &TurnRequest{
			SessionID: "sess-14",
			Message:   "where is my order",
		})
		require.Error(t, err)
	})

	t.Run("invalid request rejected before locking", func(t *testing.T) {
		f := newEngineFixture()
		f.locker.busy = true // would fail if the lock were touched

		_, err := f.engine.HandleTurn(ctx, &TurnRequest{SessionID: "sess-15", Message: "   "})
		var invalid *models.ValidationError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestConversationEngine_SummaryRefresh(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()

	session := models.NewConversationSession("sess-long", "cust-9")
	for i := 0; i < 16; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		session.AppendMessage(models.Message{
			ID:        fmt.Sprintf("m%d", i),
			Role:      role,
			Content:   fmt.Sprintf("turn %d about delivery", i),
			Timestamp: time.Now().Add(time.Duration(i-20) * time.Minute),
		})
	}
	require.NoError(t, f.sessions.CreateSession(ctx, session))

	isSummaryReq := func(req GenerationRequest) bool {
		return len(req.Messages) == 1 && strings.Contains(req.Messages[0].Content, "JSON summary")
	}
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(isSummaryReq)).Return(&GenerationResult{
		Content: `{"summary": "Customer asked repeatedly about delivery timing.", "key_topics": ["delivery"], "action_items": []}`,
	}, nil).Once()
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerationRequest) bool {
		return !isSummaryReq(req)
	})).Return(&GenerationResult{
		Content:                "Delivery takes two days [Source 1].",
		SelfReportedConfidence: confidencePtr(0.9),
	}, nil)
	f.expectRetrieval(0.9)

	_, err := f.engine.HandleTurn(ctx, &TurnRequest{
		SessionID: "sess-long",
		Message:   "where is my order",
	})
	require.NoError(t, err)

	stored, err := f.sessions.LoadSession(ctx, "sess-long")
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, 10, stored.Summary.CoversMessages)
	assert.Equal(t, "Customer asked repeatedly about delivery timing.", stored.Summary.Text)
}

func TestConversationEngine_Streaming(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.expectRetrieval(0.9)
	f.llm.On("GenerateStream", mock.Anything, mock.Anything, mock.Anything).Return(&GenerationResult{
		Content:                "Streamed answer [Source 1].",
		SelfReportedConfidence: confidencePtr(0.9),
	}, nil)

	var streamed strings.Builder
	resp, err := f.engine.HandleTurnStream(ctx, &TurnRequest{
		SessionID: "sess-stream",
		Message:   "where is my order",
	}, func(delta string) {
		streamed.WriteString(delta)
	})
	require.NoError(t, err)

	assert.NotEmpty(t, streamed.String())
	assert.False(t, resp.Escalated)
	assert.NotContains(t, resp.Content, "[Source")
}

func TestTurnRequestValidate(t *testing.T) {
	valid := &TurnRequest{SessionID: "s1", Message: "hello there"}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&TurnRequest{Message: "hi"}).Validate())
	assert.Error(t, (&TurnRequest{SessionID: "s1", Message: ""}).Validate())
	assert.Error(t, (&TurnRequest{SessionID: "s1", Message: strings.Repeat("x", 4001)}).Validate())
}
