package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the immutable application configuration. It is constructed
// once at startup, validated, and passed by reference into component
// constructors; nothing reads the environment after Load returns.
type Settings struct {
	App      AppSettings
	LLM      LLMSettings
	Chroma   ChromaSettings
	Redis    RedisSettings
	RAG      RAGSettings
	Memory   MemorySettings
	Agent    AgentSettings
	Business BusinessSettings
}

// AppSettings holds application-level settings
type AppSettings struct {
	Name     string
	Env      string // development, staging, production
	Host     string
	Port     int
	LogLevel string
}

// LLMSettings holds provider endpoints and model selection
type LLMSettings struct {
	BaseURL             string
	APIKey              string
	Model               string
	Temperature         float64
	MaxTokens           int
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
	RerankerBaseURL     string
	RerankerModel       string
	UseReranker         bool
	RequestTimeout      time.Duration
}

// ChromaSettings holds the knowledge store connection settings
type ChromaSettings struct {
	Host       string
	Port       int
	Tenant     string
	Database   string
	Collection string
	Timeout    time.Duration
}

// RedisSettings holds the memory store connection settings
type RedisSettings struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RAGSettings holds the retrieval pipeline tuning knobs
type RAGSettings struct {
	RetrievalTopK            int     // broad candidate pool size
	RerankTopK               int     // final K after reranking
	HybridAlpha              float64 // 1.0 = pure semantic, 0.0 = pure lexical
	MinScore                 float32 // drop results below this
	MaxContextTokens         int
	MaxConversationMessages  int
	ReservedResponseTokens   int
}

// MemorySettings holds session memory and retention settings
type MemorySettings struct {
	SummarizationThreshold    int
	SummaryMaxTokens          int
	SessionTTL                time.Duration
	CustomerDataRetentionDays int
	SessionLockWait           time.Duration
	RetentionSweepInterval    time.Duration
}

// AgentSettings holds the arbiter's decision thresholds. The confidence
// weights are configuration, not hardcoded; the blend must stay monotonic
// in each input.
type AgentSettings struct {
	ConfidenceThreshold          float64
	ClarifyBand                  float64 // lower bound of the ambiguous band
	EscalationSentimentThreshold float64
	MaxLLMRetries                int
	ResponseTimeout              time.Duration
	MaxResponseLength            int
	GroundingWeight              float64
	SourceWeight                 float64
	SentimentWeight              float64
}

// BusinessSettings holds business-specific context for the system prompt
type BusinessSettings struct {
	Name          string
	Timezone      string
	HoursStart    string
	HoursEnd      string
	Days          []string
	SupportEmail  string
	SupportPhone  string
}

// Load reads settings from the environment (with .env support) and
// validates them. Infeasible budgets are rejected here, at startup, rather
// than truncated away per turn.
func Load() (*Settings, error) {
	// Best effort; a missing .env file is not an error
	_ = godotenv.Load()

	s := &Settings{
		App: AppSettings{
			Name:     getEnv("APP_NAME", "Singapore SMB Support Agent"),
			Env:      getEnv("APP_ENV", "development"),
			Host:     getEnv("APP_HOST", "0.0.0.0"),
			Port:     getEnvInt("APP_PORT", 8080),
			LogLevel: getEnv("APP_LOG_LEVEL", "INFO"),
		},
		LLM: LLMSettings{
			BaseURL:             getEnv("LLM_BASE_URL", "http://localhost:1234/v1"),
			APIKey:              getEnv("LLM_API_KEY", ""),
			Model:               getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature:         getEnvFloat("LLM_TEMPERATURE", 0.3),
			MaxTokens:           getEnvInt("LLM_MAX_TOKENS", 1024),
			EmbeddingBaseURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:1234/v1"),
			EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
			RerankerBaseURL:     getEnv("RERANKER_BASE_URL", ""),
			RerankerModel:       getEnv("RERANKER_MODEL", "rerank-english-v3.0"),
			UseReranker:         getEnvBool("USE_RERANKER", false),
			RequestTimeout:      getEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
		},
		Chroma: ChromaSettings{
			Host:       getEnv("CHROMA_HOST", "localhost"),
			Port:       getEnvInt("CHROMA_PORT", 8000),
			Tenant:     getEnv("CHROMA_TENANT", "default_tenant"),
			Database:   getEnv("CHROMA_DATABASE", "default_database"),
			Collection: getEnv("CHROMA_COLLECTION", "knowledge_base"),
			Timeout:    getEnvDuration("CHROMA_TIMEOUT", 30*time.Second),
		},
		Redis: RedisSettings{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		RAG: RAGSettings{
			RetrievalTopK:           getEnvInt("RETRIEVAL_TOP_K", 50),
			RerankTopK:              getEnvInt("RERANK_TOP_K", 5),
			HybridAlpha:             getEnvFloat("HYBRID_SEARCH_ALPHA", 0.5),
			MinScore:                float32(getEnvFloat("RETRIEVAL_MIN_SCORE", 0.5)),
			MaxContextTokens:        getEnvInt("MAX_CONTEXT_TOKENS", 4000),
			MaxConversationMessages: getEnvInt("MAX_CONVERSATION_MESSAGES", 20),
			ReservedResponseTokens:  getEnvInt("RESERVED_RESPONSE_TOKENS", 1000),
		},
		Memory: MemorySettings{
			SummarizationThreshold:    getEnvInt("SUMMARIZATION_THRESHOLD", 15),
			SummaryMaxTokens:          getEnvInt("SUMMARY_MAX_TOKENS", 500),
			SessionTTL:                getEnvDuration("REDIS_SESSION_TTL", 30*time.Minute),
			CustomerDataRetentionDays: getEnvInt("CUSTOMER_DATA_RETENTION_DAYS", 30),
			SessionLockWait:           getEnvDuration("SESSION_LOCK_WAIT", 30*time.Second),
			RetentionSweepInterval:    getEnvDuration("RETENTION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Agent: AgentSettings{
			ConfidenceThreshold:          getEnvFloat("CONFIDENCE_THRESHOLD", 0.7),
			ClarifyBand:                  getEnvFloat("CLARIFY_BAND", 0.4),
			EscalationSentimentThreshold: getEnvFloat("ESCALATION_SENTIMENT_THRESHOLD", -0.5),
			MaxLLMRetries:                getEnvInt("MAX_LLM_RETRIES", 3),
			ResponseTimeout:              getEnvDuration("RESPONSE_TIMEOUT", 30*time.Second),
			MaxResponseLength:            getEnvInt("MAX_RESPONSE_LENGTH", 1500),
			GroundingWeight:              getEnvFloat("CONFIDENCE_GROUNDING_WEIGHT", 0.5),
			SourceWeight:                 getEnvFloat("CONFIDENCE_SOURCE_WEIGHT", 0.3),
			SentimentWeight:              getEnvFloat("CONFIDENCE_SENTIMENT_WEIGHT", 0.2),
		},
		Business: BusinessSettings{
			Name:         getEnv("BUSINESS_NAME", "Your Singapore SMB"),
			Timezone:     getEnv("BUSINESS_TIMEZONE", "Asia/Singapore"),
			HoursStart:   getEnv("BUSINESS_HOURS_START", "09:00"),
			HoursEnd:     getEnv("BUSINESS_HOURS_END", "18:00"),
			Days:         splitList(getEnv("BUSINESS_DAYS", "Monday,Tuesday,Wednesday,Thursday,Friday")),
			SupportEmail: getEnv("SUPPORT_EMAIL", "support@yourcompany.com"),
			SupportPhone: getEnv("SUPPORT_PHONE", "+65-6123-4567"),
		},
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks configuration invariants. Called once at startup so
// misconfiguration fails fast instead of surfacing per turn.
func (s *Settings) Validate() error {
	if s.RAG.RetrievalTopK < 1 || s.RAG.RetrievalTopK > 200 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be between 1 and 200, got %d", s.RAG.RetrievalTopK)
	}
	if s.RAG.RerankTopK < 1 || s.RAG.RerankTopK > s.RAG.RetrievalTopK {
		return fmt.Errorf("RERANK_TOP_K must be between 1 and RETRIEVAL_TOP_K (%d), got %d",
			s.RAG.RetrievalTopK, s.RAG.RerankTopK)
	}
	if s.RAG.HybridAlpha < 0 || s.RAG.HybridAlpha > 1 {
		return fmt.Errorf("HYBRID_SEARCH_ALPHA must be between 0 and 1, got %f", s.RAG.HybridAlpha)
	}
	if s.RAG.MinScore < 0 || s.RAG.MinScore > 1 {
		return fmt.Errorf("RETRIEVAL_MIN_SCORE must be between 0 and 1, got %f", s.RAG.MinScore)
	}
	if s.RAG.MaxContextTokens <= 0 {
		return fmt.Errorf("MAX_CONTEXT_TOKENS must be positive, got %d", s.RAG.MaxContextTokens)
	}
	if s.RAG.ReservedResponseTokens < 0 {
		return fmt.Errorf("RESERVED_RESPONSE_TOKENS cannot be negative, got %d", s.RAG.ReservedResponseTokens)
	}
	if s.RAG.ReservedResponseTokens >= s.RAG.MaxContextTokens {
		return fmt.Errorf("budget infeasible: reserved response tokens (%d) leave no room in max context (%d)",
			s.RAG.ReservedResponseTokens, s.RAG.MaxContextTokens)
	}
	if s.Agent.ConfidenceThreshold < 0 || s.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1, got %f", s.Agent.ConfidenceThreshold)
	}
	if s.Agent.ClarifyBand < 0 || s.Agent.ClarifyBand >= s.Agent.ConfidenceThreshold {
		return fmt.Errorf("CLARIFY_BAND must be between 0 and CONFIDENCE_THRESHOLD (%f), got %f",
			s.Agent.ConfidenceThreshold, s.Agent.ClarifyBand)
	}
	if s.Agent.EscalationSentimentThreshold < -1 || s.Agent.EscalationSentimentThreshold > 0 {
		return fmt.Errorf("ESCALATION_SENTIMENT_THRESHOLD must be between -1 and 0, got %f",
			s.Agent.EscalationSentimentThreshold)
	}
	if s.Agent.MaxLLMRetries < 0 {
		return fmt.Errorf("MAX_LLM_RETRIES cannot be negative, got %d", s.Agent.MaxLLMRetries)
	}
	if s.Agent.GroundingWeight < 0 || s.Agent.SourceWeight < 0 || s.Agent.SentimentWeight < 0 {
		return fmt.Errorf("confidence weights cannot be negative")
	}
	if s.Agent.GroundingWeight+s.Agent.SourceWeight == 0 {
		return fmt.Errorf("at least one positive confidence weight is required")
	}
	if s.Memory.SummarizationThreshold < 1 {
		return fmt.Errorf("SUMMARIZATION_THRESHOLD must be positive, got %d", s.Memory.SummarizationThreshold)
	}
	if s.Memory.CustomerDataRetentionDays < 1 {
		return fmt.Errorf("CUSTOMER_DATA_RETENTION_DAYS must be positive, got %d", s.Memory.CustomerDataRetentionDays)
	}
	return nil
}

// RedisAddr returns the host:port address for the redis client
func (s *RedisSettings) RedisAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
