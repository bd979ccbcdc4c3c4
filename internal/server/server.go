package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	seeds "support-agent/config"
	"support-agent/internal/config"
	"support-agent/internal/db"
	"support-agent/internal/handlers"
	"support-agent/internal/repositories"
	"support-agent/internal/routes"
	"support-agent/internal/services"
	"support-agent/internal/workers"
)

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Server bundles the HTTP server with its background workers so the
// entrypoint can shut both down together.
type Server struct {
	HTTP    *http.Server
	Workers *workers.WorkerPool
}

// NewServer wires configuration, stores, services, handlers and workers
// into a ready-to-run server. Redis is required; ChromaDB being down at
// startup is logged and surfaces per request as retrieval unavailable.
func NewServer() (*Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Session memory store
	logger.Printf("Connecting to Redis: %s (DB: %d)", settings.Redis.RedisAddr(), settings.Redis.DB)
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Host:         settings.Redis.Host,
		Port:         settings.Redis.Port,
		Password:     settings.Redis.Password,
		DB:           settings.Redis.DB,
		PoolSize:     settings.Redis.PoolSize,
		MinIdleConns: settings.Redis.MinIdleConns,
		DialTimeout:  settings.Redis.DialTimeout,
		ReadTimeout:  settings.Redis.ReadTimeout,
		WriteTimeout: settings.Redis.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}
	if err := redisClient.Ping(ctx); err != nil {
		logger.Println("Hint: ensure Redis is running (docker run -d -p 6379:6379 redis:7-alpine)")
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Println("✅ Redis connected successfully")

	// Knowledge store
	logger.Printf("Connecting to ChromaDB: %s:%d", settings.Chroma.Host, settings.Chroma.Port)
	chromaClient := db.NewChromaDBClient(db.ChromaDBConfig{
		Host:     settings.Chroma.Host,
		Port:     settings.Chroma.Port,
		Tenant:   settings.Chroma.Tenant,
		Database: settings.Chroma.Database,
		Timeout:  settings.Chroma.Timeout,
	})
	if err := chromaClient.Heartbeat(ctx); err != nil {
		logger.Printf("⚠️  ChromaDB unreachable at startup: %v", err)
		logger.Println("   Retrieval will return 503 until it comes back")
		logger.Println("   Hint: ensure ChromaDB is running (docker run -d -p 8000:8000 chromadb/chroma)")
	} else {
		logger.Println("✅ ChromaDB connected successfully")
	}

	// Repositories
	sessions := repositories.NewRedisSessionRepository(redisClient, settings.Memory.SessionTTL)
	profiles := repositories.NewRedisProfileRepository(redisClient, settings.Memory.CustomerDataRetentionDays)
	locks := repositories.NewRedisSessionLock(redisClient)
	knowledgeRepo := repositories.NewChromaKnowledgeRepository(chromaClient, settings.Chroma.Collection)

	// Shared services
	tokens, err := services.NewTiktokenCounter()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token counter: %w", err)
	}

	embedder := services.NewOpenAIEmbeddingClient(
		settings.LLM.EmbeddingBaseURL,
		settings.LLM.APIKey,
		settings.LLM.EmbeddingModel,
		settings.LLM.RequestTimeout,
	)
	llm := services.NewOpenAILLMClient(
		settings.LLM.BaseURL,
		settings.LLM.APIKey,
		settings.LLM.Model,
		settings.LLM.RequestTimeout,
	)

	var reranker services.Reranker
	if settings.LLM.UseReranker && settings.LLM.RerankerBaseURL != "" {
		reranker = services.NewCohereReranker(
			settings.LLM.RerankerBaseURL,
			settings.LLM.APIKey,
			settings.LLM.RerankerModel,
			settings.LLM.RequestTimeout,
		)
		logger.Printf("Reranking enabled (model: %s)", settings.LLM.RerankerModel)
	}

	retriever := services.NewRetrievalService(knowledgeRepo, embedder, reranker, settings.RAG, logger)
	assembler := services.NewContextAssembler(tokens, settings.RAG, logger)
	arbiter := services.NewResponseArbiter(llm, settings.Agent, logger)
	summarizer := services.NewSummarizerService(llm, tokens, services.NewPIIScrubber(), settings.Memory, logger)
	business := services.NewBusinessContext(settings.Business)
	ticketing := buildTicketingClient(settings, logger)

	engine := services.NewConversationEngine(
		sessions, profiles, locks,
		retriever, assembler, arbiter, summarizer,
		ticketing, business, settings, logger,
	)
	knowledge := services.NewKnowledgeService(knowledgeRepo, embedder, tokens, logger)

	seedKnowledgeBase(knowledge, logger)

	// HTTP layer
	h := &routes.Handlers{
		Chat:      handlers.NewChatHandler(engine, sessions, logger),
		Stream:    handlers.NewStreamHandler(engine, logger),
		Knowledge: handlers.NewKnowledgeHandler(knowledge, retriever, logger),
		Health:    handlers.NewHealthHandler(sessions, retriever, logger),
	}

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h)

	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", settings.App.Port)),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	// Background retention sweep
	pool := workers.NewWorkerPool()
	pool.AddWorker(workers.NewRetentionWorker(workers.RetentionWorkerConfig{
		WorkerConfig: workers.WorkerConfig{
			WorkerName:      "retention",
			SweepInterval:   settings.Memory.RetentionSweepInterval,
			ShutdownTimeout: 30 * time.Second,
			EnableRecovery:  true,
		},
		Sessions:      sessions,
		Profiles:      profiles,
		RetentionDays: settings.Memory.CustomerDataRetentionDays,
		Logger:        logger,
	}))
	if err := pool.StartAll(context.Background()); err != nil {
		logger.Printf("⚠️  Failed to start background workers: %v", err)
	} else {
		logger.Println("✅ Retention worker started")
	}

	return &Server{
		HTTP: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", settings.App.Host, settings.App.Port),
			Handler: corsMiddleware(router),
		},
		Workers: pool,
	}, nil
}

// Shutdown stops the HTTP server and background workers
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.HTTP.Shutdown(ctx); err != nil {
		return err
	}
	return s.Workers.StopAll(ctx)
}

// buildTicketingClient picks the escalation sink. Without a helpdesk
// webhook configured, escalations go to the application log.
func buildTicketingClient(settings *config.Settings, logger *log.Logger) services.TicketingClient {
	endpoint := os.Getenv("TICKETING_WEBHOOK_URL")
	if endpoint == "" {
		logger.Println("No ticketing webhook configured, escalations will be logged")
		return services.NewLogTicketingClient(logger)
	}
	logger.Printf("Ticketing webhook configured: %s", endpoint)
	return services.NewHTTPTicketingClient(endpoint, os.Getenv("TICKETING_API_KEY"), 10*time.Second)
}

// seedKnowledgeBase ingests the seed file named by KNOWLEDGE_SEED_FILE,
// if any. Runs in the background; ingestion failures never block startup.
func seedKnowledgeBase(knowledge *services.KnowledgeService, logger *log.Logger) {
	path := os.Getenv("KNOWLEDGE_SEED_FILE")
	if path == "" {
		return
	}

	go func() {
		docs, err := seeds.LoadSeedDocuments(path)
		if err != nil {
			logger.Printf("⚠️  Failed to load seed file %s: %v", path, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		total := 0
		for i := range docs {
			chunks, err := knowledge.IngestDocument(ctx, &docs[i])
			if err != nil {
				logger.Printf("⚠️  Seed ingestion failed for %s: %v", docs[i].Source, err)
				continue
			}
			total += chunks
		}
		logger.Printf("✅ Seeded knowledge base: %d documents, %d chunks", len(docs), total)
	}()
}
