package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/kbchat/chunker"
	"github.com/kbchat/models"
)

// ChatTurn is one message handed to the chat model.
type ChatTurn struct {
	Role    string
	Content string
}

// EnrichedChunk is a chunk plus its generated context and summary.
type EnrichedChunk struct {
	chunker.Chunk
	Context           string
	Summary           string
	ContextualContent string
}

type EmbeddingService interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the configured vector width, checked at write time.
	Dimensions() int

	// TokensUsed reports the cumulative prompt tokens billed so far.
	TokensUsed() int
}

type LLMService interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Stream issues a chat completion and forwards each content delta
	// to onDelta. It returns the full accumulated answer; on context
	// cancellation the partial answer is returned with the error.
	Stream(ctx context.Context, turns []ChatTurn, onDelta func(delta string) error) (string, error)
}

type EnrichmentService interface {
	SummarizeDocument(ctx context.Context, title, content string) (string, error)
	EnrichChunks(ctx context.Context, title, documentSummary string, chunks []chunker.Chunk) ([]EnrichedChunk, error)
}

type IngestionService interface {
	IngestDatabase(ctx context.Context, databaseID string) (*models.IngestReport, error)
	IngestPage(ctx context.Context, databaseID, pageID string) error
	DeletePage(ctx context.Context, pageID string) error
}

type RetrievalService interface {
	Search(ctx context.Context, query string, filters *models.SearchFilters, limit int) ([]models.RetrievedChunk, error)
}

type SessionService interface {
	CreateSession(ctx context.Context) (*models.ChatSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]models.ChatSession, int64, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	AppendMessage(ctx context.Context, sessionID uuid.UUID, msg *models.ChatMessage) error
	GetMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error)

	ResumeSession(ctx context.Context, id uuid.UUID) error
	ConcludeSession(ctx context.Context, id uuid.UUID, reason string) error

	// StartIdleMonitor launches the background task that concludes
	// idle sessions. It returns after starting; cancel ctx to stop.
	StartIdleMonitor(ctx context.Context)
}

// ChatStream receives the streamed pieces of a chat answer.
type ChatStream interface {
	SendContent(delta string) error
	SendCitations(citations models.Citations) error
}

type ChatService interface {
	// ChatStream answers a chat request, streaming deltas to stream.
	ChatStream(ctx context.Context, req *models.ChatRequest, stream ChatStream) error

	// Chat answers a chat request in one shot.
	Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error)
}

type CacheService interface {
	GetSearchResults(ctx context.Context, key string) ([]models.RetrievedChunk, bool)
	SetSearchResults(ctx context.Context, key string, results []models.RetrievedChunk)
	InvalidateSearchResults(ctx context.Context)
}
