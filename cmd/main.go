package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kbchat/config"
	"github.com/kbchat/handlers"
	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/notion"
	"github.com/kbchat/services/impl"
	"github.com/kbchat/tokenizer"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	appLogger, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer appLogger.Sync()

	db, err := initDB(cfg)
	if err != nil {
		appLogger.Fatal("failed to connect to database", "error", err)
	}

	if err := db.AutoMigrate(
		&models.NotionDatabase{},
		&models.Document{},
		&models.DocumentChunk{},
		&models.DocumentMetadata{},
		&models.ChatSession{},
		&models.ChatMessage{},
	); err != nil {
		appLogger.Fatal("failed to migrate database", "error", err)
	}

	counter, err := tokenizer.New(cfg.Sync.Models.TokenizerEncoding)
	if err != nil {
		appLogger.Warn("failed to load tokenizer encoding, using estimate", "error", err)
		counter = tokenizer.Shared()
	}

	openaiClient := newOpenAIClient(&cfg.OpenAI)

	notionClient := notion.NewClient(
		cfg.Notion.BaseURL,
		cfg.Notion.AccessToken,
		cfg.Notion.Version,
		appLogger,
	)

	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			appLogger.Warn("redis connection failed, search cache degrades to memory", "error", err)
			redisClient = nil
		}
	}

	cacheService := impl.NewCacheServiceWithRedis(redisClient, &cfg.Redis, appLogger)

	// All databases share one embedder; pacing follows the slowest
	// configured delay.
	delay, maxRetries, batchSize := embedderSettings(&cfg.Sync)
	embeddingService := impl.NewEmbeddingService(
		openaiClient,
		cfg.Sync.Models.EmbeddingModel,
		cfg.Sync.Models.EmbeddingDimensions,
		batchSize,
		delay,
		maxRetries,
		appLogger,
	)
	llmService := impl.NewLLMService(
		openaiClient,
		cfg.Sync.Models.ChatModel,
		cfg.Sync.Models.Temperature,
		cfg.Sync.Models.MaxTokens,
		appLogger,
	)
	enrichmentService := impl.NewEnrichmentService(llmService, appLogger)
	ingestionService := impl.NewIngestionService(db, notionClient, embeddingService, enrichmentService, counter, &cfg.Sync, cacheService, appLogger)
	retrievalService := impl.NewRetrievalService(impl.NewChunkRPC(db), embeddingService, cacheService, cfg.Retrieval, &cfg.Sync, appLogger)
	sessionService := impl.NewSessionService(db, llmService, cfg.Session, appLogger)
	chatService := impl.NewChatService(retrievalService, llmService, sessionService, appLogger)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	sessionService.StartIdleMonitor(monitorCtx)

	router := setupRouter(
		handlers.NewSearchHandlers(retrievalService, appLogger),
		handlers.NewChatHandlers(chatService, appLogger),
		handlers.NewSessionHandlers(sessionService, appLogger),
		handlers.NewWebhookHandlers(ingestionService, appLogger),
		handlers.NewAdminHandlers(ingestionService, db, redisClient, appLogger),
	)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		appLogger.Info("server starting", "address", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")

	stopMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("server forced to shutdown", "error", err)
	}

	appLogger.Info("server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

func newOpenAIClient(cfg *config.OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	return openai.NewClientWithConfig(clientCfg)
}

// embedderSettings folds the per-database sync settings into one
// embedder configuration: slowest delay and highest retry count.
func embedderSettings(syncCfg *config.SyncConfig) (time.Duration, int, int) {
	delay := 0.0
	maxRetries := 3
	batchSize := 100
	for _, db := range syncCfg.Databases {
		if db.RateLimitDelay > delay {
			delay = db.RateLimitDelay
		}
		if db.MaxRetries > maxRetries {
			maxRetries = db.MaxRetries
		}
	}
	return time.Duration(delay * float64(time.Second)), maxRetries, batchSize
}

func setupRouter(
	searchHandlers *handlers.SearchHandlers,
	chatHandlers *handlers.ChatHandlers,
	sessionHandlers *handlers.SessionHandlers,
	webhookHandlers *handlers.WebhookHandlers,
	adminHandlers *handlers.AdminHandlers,
) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", adminHandlers.Health)

	router.POST("/search", searchHandlers.Search)
	router.POST("/chat", chatHandlers.Chat)
	router.POST("/notion/webhook", webhookHandlers.NotionWebhook)

	api := router.Group("/api")
	{
		api.POST("/chat-sessions", sessionHandlers.CreateSession)
		api.GET("/chat-sessions", sessionHandlers.ListSessions)
		api.GET("/chat-sessions/:id", sessionHandlers.GetSession)
		api.DELETE("/chat-sessions/:id", sessionHandlers.DeleteSession)
		api.POST("/chat-sessions/:id/conclude", sessionHandlers.ConcludeSession)
		api.GET("/chat-sessions/:id/messages", sessionHandlers.GetMessages)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/ingest/:database_id", adminHandlers.IngestDatabase)
	}

	return router
}
