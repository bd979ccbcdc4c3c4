package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"support-agent/internal/config"
	"support-agent/internal/models"
	"support-agent/internal/repositories"
)

// Escalations commit on their own deadline; the turn deadline may already
// have expired by the time one is filed.
const escalationCommitTimeout = 10 * time.Second

// TurnRequest is one inbound customer message
type TurnRequest struct {
	SessionID  string `json:"session_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Message    string `json:"message"`
	Language   string `json:"language,omitempty"` // optional override
}

// Validate checks if the turn request is valid
func (r *TurnRequest) Validate() error {
	if r.SessionID == "" {
		return &models.ValidationError{Field: "session_id", Message: "session ID is required"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &models.ValidationError{Field: "message", Message: "message is required"}
	}
	if len(r.Message) > 4000 {
		return &models.ValidationError{Field: "message", Message: "message exceeds 4000 characters"}
	}
	return nil
}

// ConversationEngine orchestrates one turn end to end: lock the session,
// classify the message, retrieve knowledge, assemble the bounded context,
// draft and score a response, decide the outcome, then commit the whole
// turn to session memory in one write.
type ConversationEngine struct {
	sessions   repositories.SessionRepository
	profiles   repositories.ProfileRepository
	locks      repositories.SessionLocker
	retriever  *RetrievalService
	assembler  *ContextAssembler
	arbiter    *ResponseArbiter
	summarizer *SummarizerService
	ticketing  TicketingClient
	scrubber   *PIIScrubber
	language   *LanguageDetector
	intents    *IntentClassifier
	sentiment  *SentimentAnalyzer
	business   *BusinessContext
	settings   *config.Settings
	logger     *log.Logger
}

// NewConversationEngine creates a new conversation engine
func NewConversationEngine(
	sessions repositories.SessionRepository,
	profiles repositories.ProfileRepository,
	locks repositories.SessionLocker,
	retriever *RetrievalService,
	assembler *ContextAssembler,
	arbiter *ResponseArbiter,
	summarizer *SummarizerService,
	ticketing TicketingClient,
	business *BusinessContext,
	settings *config.Settings,
	logger *log.Logger,
) *ConversationEngine {
	return &ConversationEngine{
		sessions:   sessions,
		profiles:   profiles,
		locks:      locks,
		retriever:  retriever,
		assembler:  assembler,
		arbiter:    arbiter,
		summarizer: summarizer,
		ticketing:  ticketing,
		scrubber:   NewPIIScrubber(),
		language:   NewLanguageDetector(),
		intents:    NewIntentClassifier(),
		sentiment:  NewSentimentAnalyzer(),
		business:   business,
		settings:   settings,
		logger:     logger,
	}
}

// HandleTurn processes one customer message and returns the committed
// response. Concurrent turns on the same session serialize on the session
// lock; a second turn arriving while one is in flight gets SessionBusy
// after the bounded wait.
func (e *ConversationEngine) HandleTurn(ctx context.Context, req *TurnRequest) (*models.AgentResponse, error) {
	return e.handleTurn(ctx, req, nil)
}

// HandleTurnStream processes a turn while streaming draft deltas through
// onDelta. The committed response is returned once the turn completes; a
// turn that ends in clarification or escalation replaces the streamed text.
func (e *ConversationEngine) HandleTurnStream(ctx context.Context, req *TurnRequest, onDelta func(string)) (*models.AgentResponse, error) {
	return e.handleTurn(ctx, req, onDelta)
}

func (e *ConversationEngine) handleTurn(ctx context.Context, req *TurnRequest, onDelta func(string)) (*models.AgentResponse, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Personal identifiers are masked before the message reaches any
	// provider or the session store. Counts only in the log, never values.
	if masked := e.scrubber.Scrub(req.Message); masked != req.Message {
		e.logger.Printf("Masked personal identifiers in a message for session %s", req.SessionID)
		req.Message = masked
	}

	release, err := e.locks.Acquire(ctx, req.SessionID, e.settings.Memory.SessionLockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := e.loadOrCreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	// Per-turn deadline; everything past here shares it
	turnCtx, cancel := context.WithTimeout(ctx, e.settings.Agent.ResponseTimeout)
	defer cancel()

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now().UTC(),
	}

	e.classify(session, req)

	response := e.newResponse(session, startTime)

	// Gates that need no generation at all
	if e.intents.IsHumanRequest(req.Message) {
		return e.escalateAndCommit(turnCtx, session, userMsg, response, models.EscalationExplicitRequest, startTime)
	}
	if e.intents.IsSensitiveTopic(req.Message) {
		return e.escalateAndCommit(turnCtx, session, userMsg, response, models.EscalationSensitiveTopic, startTime)
	}

	e.refreshSummary(turnCtx, session)

	// Retrieval unavailability propagates; the turn is not committed
	retrieval, err := e.retriever.Retrieve(turnCtx, req.Message, &repositories.SearchFilters{
		Language: session.DetectedLanguage,
	})
	if err != nil {
		return nil, err
	}

	promptCtx, err := e.assembler.Assemble(e.systemPrompt(session), session, retrieval.Chunks, userMsg)
	if err != nil {
		return nil, err
	}

	draft, err := e.draft(turnCtx, promptCtx, onDelta)
	if err != nil {
		// Generation failures become an escalation, not a dropped turn
		e.logger.Printf("Generation failed for session %s: %v", session.SessionID, err)
		return e.escalateAndCommit(turnCtx, session, userMsg, response, models.EscalationRepeatedFailure, startTime)
	}

	scored, err := e.arbiter.Score(draft, promptCtx, session.Sentiment)
	if err != nil {
		var violation *models.GroundingViolationError
		if errors.As(err, &violation) {
			e.logger.Printf("Grounding violation in session %s, discarding draft", session.SessionID)
			return e.escalateAndCommit(turnCtx, session, userMsg, response, models.EscalationLowConfidence, startTime)
		}
		return nil, err
	}

	outcome, reason := e.arbiter.Decide(scored.Confidence, session.Sentiment)
	switch outcome {
	case OutcomeEscalate:
		response.Confidence = scored.Confidence
		response.Sources = scored.Sources
		return e.escalateAndCommit(turnCtx, session, userMsg, response, reason, startTime)

	case OutcomeClarify:
		response.Content = clarifyTemplate(session.DetectedLanguage)
		response.Confidence = scored.Confidence
		response.Sources = scored.Sources
		response.RequiresFollowup = true

	default:
		response.Content = scored.Content
		response.Confidence = scored.Confidence
		response.Sources = scored.Sources
		response.SuggestedActions = e.suggestActions(session.DetectedIntent)
	}

	return e.commit(turnCtx, session, userMsg, response, startTime)
}

func (e *ConversationEngine) loadOrCreateSession(ctx context.Context, req *TurnRequest) (*models.ConversationSession, error) {
	session, err := e.sessions.LoadSession(ctx, req.SessionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			session = models.NewConversationSession(req.SessionID, req.CustomerID)
			if err := e.sessions.CreateSession(ctx, session); err != nil {
				return nil, err
			}
			return session, nil
		}
		return nil, err
	}

	// Escalated sessions stay with the human side
	if session.Status == models.SessionEscalated {
		return nil, &models.SessionEscalatedError{SessionID: session.SessionID}
	}
	// A message on a resolved or expired session reopens it
	if session.Status != models.SessionActive {
		session.Status = models.SessionActive
	}

	return session, nil
}

// classify updates the session's language, intent and rolling sentiment
// from the new message
func (e *ConversationEngine) classify(session *models.ConversationSession, req *TurnRequest) {
	if req.Language != "" && e.language.IsSupported(req.Language) {
		session.DetectedLanguage = req.Language
	} else {
		session.DetectedLanguage = e.language.Detect(req.Message)
	}
	session.DetectedIntent = e.intents.Classify(req.Message)
	session.Sentiment = e.sentiment.Update(session.Sentiment, e.sentiment.Analyze(req.Message))
}

// refreshSummary folds old history before assembly. A summarizer failure
// keeps the previous summary; the assembler trims harder instead.
func (e *ConversationEngine) refreshSummary(ctx context.Context, session *models.ConversationSession) {
	if !e.summarizer.NeedsSummarization(session) {
		return
	}
	summary, err := e.summarizer.Summarize(ctx, session)
	if err != nil {
		e.logger.Printf("Summarization failed for session %s, keeping previous summary: %v", session.SessionID, err)
		return
	}
	session.Summary = summary
}

func (e *ConversationEngine) draft(ctx context.Context, promptCtx *models.PromptContext, onDelta func(string)) (*GenerationResult, error) {
	if onDelta != nil {
		return e.arbiter.DraftStream(ctx, promptCtx, e.settings.LLM.Temperature, e.settings.LLM.MaxTokens, onDelta)
	}
	return e.arbiter.Draft(ctx, promptCtx, e.settings.LLM.Temperature, e.settings.LLM.MaxTokens)
}

func (e *ConversationEngine) newResponse(session *models.ConversationSession, startTime time.Time) *models.AgentResponse {
	return &models.AgentResponse{
		MessageID:        uuid.New().String(),
		SessionID:        session.SessionID,
		Sources:          []models.SourceCitation{},
		DetectedLanguage: session.DetectedLanguage,
		DetectedIntent:   session.DetectedIntent,
		Timestamp:        time.Now().UTC(),
	}
}

// escalateAndCommit files the ticket, marks the session escalated and
// commits the turn with a handoff message. Ticket filing failures are
// logged, never surfaced; the escalation decision itself must not be lost.
func (e *ConversationEngine) escalateAndCommit(
	ctx context.Context,
	session *models.ConversationSession,
	userMsg models.Message,
	response *models.AgentResponse,
	reason models.EscalationReason,
	startTime time.Time,
) (*models.AgentResponse, error) {
	// The turn deadline may already have fired; that is how generation
	// timeouts arrive here. Ticket filing and write-back get a fresh
	// bounded context so the escalation still commits.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), escalationCommitTimeout)
	defer cancel()

	record := models.NewEscalationRecord(session, reason)
	if err := e.ticketing.FileTicket(commitCtx, record); err != nil {
		e.logger.Printf("Ticket filing failed for session %s: %v", session.SessionID, err)
	}

	session.Status = models.SessionEscalated
	response.Content = escalateTemplate(session.DetectedLanguage, record.TicketNumber, e.business.IsOpen(time.Now()))
	response.Escalated = true
	response.EscalationReason = reason
	response.RequiresFollowup = false

	e.logger.Printf("Session %s escalated (%s), ticket %s", session.SessionID, reason, record.TicketNumber)

	return e.commit(commitCtx, session, userMsg, response, startTime)
}

// commit appends the turn to session memory atomically and touches the
// customer profile. A failed write-back fails the whole turn.
func (e *ConversationEngine) commit(
	ctx context.Context,
	session *models.ConversationSession,
	userMsg models.Message,
	response *models.AgentResponse,
	startTime time.Time,
) (*models.AgentResponse, error) {
	response.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	if err := e.sessions.AppendTurn(ctx, session, userMsg, response.AsMessage()); err != nil {
		return nil, err
	}

	e.touchProfile(ctx, session)

	return response, nil
}

// touchProfile is best effort; profile bookkeeping never fails a turn
func (e *ConversationEngine) touchProfile(ctx context.Context, session *models.ConversationSession) {
	if session.CustomerID == "" {
		return
	}

	profile, err := e.profiles.GetProfile(ctx, session.CustomerID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			e.logger.Printf("Profile lookup failed for %s: %v", session.CustomerID, err)
			return
		}
		profile = &models.CustomerProfile{
			ID:                session.CustomerID,
			PreferredLanguage: session.DetectedLanguage,
			Timezone:          e.settings.Business.Timezone,
		}
	}

	profile.AddSession(session.SessionID)
	profile.PreferredLanguage = session.DetectedLanguage
	profile.InteractionCount++
	profile.LastInteraction = time.Now().UTC()

	if err := e.profiles.SaveProfile(ctx, profile); err != nil {
		e.logger.Printf("Profile save failed for %s: %v", session.CustomerID, err)
	}
}

// systemPrompt renders the base instructions for the current session
func (e *ConversationEngine) systemPrompt(session *models.ConversationSession) string {
	var b strings.Builder
	b.WriteString("You are a customer support assistant for a Singapore small business. ")
	b.WriteString("Answer only from the provided sources; when the sources do not cover the question, say so instead of guessing. ")
	b.WriteString("Reference sources as [Source N] where relevant. ")
	b.WriteString("Keep replies short and concrete. ")
	b.WriteString("End your reply with a final line \"CONFIDENCE: <0.0-1.0>\" estimating how well the sources support your answer.\n\n")
	b.WriteString(e.business.PromptSection(time.Now()))
	b.WriteString("\n\nReply in language: ")
	b.WriteString(languageName(session.DetectedLanguage))
	return b.String()
}

func (e *ConversationEngine) suggestActions(intent models.Intent) []models.SuggestedAction {
	switch intent {
	case models.IntentOrderStatus:
		return []models.SuggestedAction{
			{ActionType: "quick_reply", Label: "Track another order", Value: "track order"},
		}
	case models.IntentPricing, models.IntentProductInquiry:
		return []models.SuggestedAction{
			{ActionType: "quick_reply", Label: "Check availability", Value: "is it in stock"},
			{ActionType: "quick_reply", Label: "Delivery options", Value: "delivery options"},
		}
	case models.IntentBusinessHours:
		return []models.SuggestedAction{
			{ActionType: "quick_reply", Label: "Contact support", Value: "how do I contact support"},
		}
	default:
		return nil
	}
}

func languageName(code string) string {
	switch code {
	case LangChinese:
		return "Chinese (Simplified)"
	case LangMalay:
		return "Malay"
	case LangTamil:
		return "Tamil"
	default:
		return "English"
	}
}

func clarifyTemplate(lang string) string {
	switch lang {
	case LangChinese:
		return "抱歉，我不太确定您的问题。您能提供更多细节吗？比如订单号或具体的产品名称。"
	case LangMalay:
		return "Maaf, saya kurang pasti dengan soalan anda. Boleh berikan butiran lanjut, seperti nombor pesanan atau nama produk?"
	case LangTamil:
		return "மன்னிக்கவும், உங்கள் கேள்வி எனக்கு முழுமையாக புரியவில்லை. ஆர்டர் எண் அல்லது தயாரிப்பு பெயர் போன்ற கூடுதல் விவரங்களை வழங்க முடியுமா?"
	default:
		return "I want to make sure I get this right. Could you share a bit more detail, like your order number or the product name?"
	}
}

func escalateTemplate(lang, ticketNumber string, open bool) string {
	availability := "Our team will get back to you as soon as possible."
	if open {
		availability = "Our team is online now and will pick this up shortly."
	}
	switch lang {
	case LangChinese:
		return "我已将您的问题转给人工客服（工单号 " + ticketNumber + "）。我们的团队会尽快与您联系。"
	case LangMalay:
		return "Saya telah memajukan pertanyaan anda kepada pegawai kami (tiket " + ticketNumber + "). Pasukan kami akan menghubungi anda secepat mungkin."
	case LangTamil:
		return "உங்கள் கோரிக்கையை எங்கள் ஆதரவு குழுவிடம் அனுப்பியுள்ளேன் (டிக்கெட் " + ticketNumber + "). எங்கள் குழு விரைவில் உங்களை தொடர்பு கொள்ளும்."
	default:
		return "I've passed this to our support team (ticket " + ticketNumber + "). " + availability
	}
}
