package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"support-agent/internal/models"
	"support-agent/internal/repositories"
)

// MockKnowledgeRepository is a mock implementation of KnowledgeRepository
type MockKnowledgeRepository struct {
	mock.Mock
}

func (m *MockKnowledgeRepository) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filters *repositories.SearchFilters) ([]*models.DocumentChunk, error) {
	args := m.Called(ctx, queryEmbedding, topK, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DocumentChunk), args.Error(1)
}

func (m *MockKnowledgeRepository) LexicalSearch(ctx context.Context, queryEmbedding []float32, term string, topK int, filters *repositories.SearchFilters) ([]*models.DocumentChunk, error) {
	args := m.Called(ctx, queryEmbedding, term, topK, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DocumentChunk), args.Error(1)
}

func (m *MockKnowledgeRepository) StoreChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockKnowledgeRepository) DeleteDocument(ctx context.Context, source string) error {
	args := m.Called(ctx, source)
	return args.Error(0)
}

func (m *MockKnowledgeRepository) ListChunks(ctx context.Context, filters *repositories.SearchFilters, limit, offset int) ([]*models.DocumentChunk, error) {
	args := m.Called(ctx, filters, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DocumentChunk), args.Error(1)
}

func (m *MockKnowledgeRepository) CountChunks(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockKnowledgeRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockKnowledgeRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockReranker is a mock implementation of Reranker
type MockReranker struct {
	mock.Mock
}

func (m *MockReranker) Rerank(ctx context.Context, query string, chunks []*models.DocumentChunk, topK int) ([]*models.DocumentChunk, error) {
	args := m.Called(ctx, query, chunks, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DocumentChunk), args.Error(1)
}

// MockLLMProvider is a mock implementation of LLMProvider
type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GenerationResult), args.Error(1)
}

func (m *MockLLMProvider) GenerateStream(ctx context.Context, req GenerationRequest, onDelta func(string)) (*GenerationResult, error) {
	args := m.Called(ctx, req, onDelta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result := args.Get(0).(*GenerationResult)
	if onDelta != nil {
		onDelta(result.Content)
	}
	return result, args.Error(1)
}

// MockTicketingClient is a mock implementation of TicketingClient
type MockTicketingClient struct {
	mock.Mock
}

func (m *MockTicketingClient) FileTicket(ctx context.Context, record *models.EscalationRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// fakeTokenCounter counts whitespace words so budget tests stay readable
type fakeTokenCounter struct{}

func (fakeTokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func (f fakeTokenCounter) CountMessage(msg models.Message) int {
	return f.CountTokens(msg.Content) + messageTokenOverhead
}

// fakeSessionRepo is an in-memory SessionRepository for engine tests
type fakeSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*models.ConversationSession
	failSaves bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*models.ConversationSession)}
}

func (f *fakeSessionRepo) CreateSession(_ context.Context, s *models.ConversationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.SessionID]; ok {
		return repositories.SessionAlreadyExistsError(s.SessionID)
	}
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeSessionRepo) LoadSession(_ context.Context, id string) (*models.ConversationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repositories.SessionNotFoundError(id)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionRepo) SaveSession(_ context.Context, s *models.ConversationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeSessionRepo) AppendTurn(ctx context.Context, s *models.ConversationSession, userMsg, assistantMsg models.Message) error {
	if err := ctx.Err(); err != nil {
		return repositories.NewSessionRepositoryError("append_turn", s.SessionID, err, "context done")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves {
		return repositories.NewSessionRepositoryError("append_turn", s.SessionID, nil, "write-back failed")
	}
	s.AppendMessage(userMsg)
	s.AppendMessage(assistantMsg)
	f.sessions[s.SessionID] = s
	return nil
}

func (f *fakeSessionRepo) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repositories.SessionNotFoundError(id)
	}
	s.Status = status
	return nil
}

func (f *fakeSessionRepo) LinkFeedback(_ context.Context, id, messageID string, rating int, comment string) error {
	return nil
}

func (f *fakeSessionRepo) ListSessionIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSessionRepo) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionRepo) Ping(_ context.Context) error { return nil }

// fakeProfileRepo is an in-memory ProfileRepository
type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*models.CustomerProfile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[string]*models.CustomerProfile)}
}

func (f *fakeProfileRepo) GetProfile(_ context.Context, id string) (*models.CustomerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, repositories.ProfileNotFoundError(id)
	}
	copied := *p
	return &copied, nil
}

func (f *fakeProfileRepo) SaveProfile(_ context.Context, p *models.CustomerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
	return nil
}

func (f *fakeProfileRepo) ListProfileIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.profiles))
	for id := range f.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeProfileRepo) DeleteProfile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, id)
	return nil
}

// fakeLocker serializes sessions with in-process mutexes; busy=true makes
// every acquisition report SessionBusy immediately
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	busy bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ context.Context, sessionID string, maxWait time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy || f.held[sessionID] {
		return nil, &models.SessionBusyError{SessionID: sessionID, WaitedFor: maxWait}
	}
	f.held[sessionID] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, sessionID)
	}, nil
}
