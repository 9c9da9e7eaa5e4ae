package impl

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbchat/chunker"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

// newTestDB opens a fresh in-memory sqlite database with the full
// schema. The metadata table is created by hand because its array
// column type is postgres-only.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.NotionDatabase{},
		&models.Document{},
		&models.DocumentChunk{},
		&models.ChatSession{},
		&models.ChatMessage{},
	))

	require.NoError(t, db.Exec(`CREATE TABLE document_metadata (
		id text PRIMARY KEY,
		document_id text NOT NULL,
		field_name text NOT NULL,
		field_type text NOT NULL,
		text_value text,
		number_value real,
		date_value datetime,
		datetime_value datetime,
		boolean_value numeric,
		array_value text,
		created_at datetime
	)`).Error)

	return db
}

type stubEmbedder struct {
	dims  int
	calls int
	err   error
	mu    sync.Mutex
}

func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	dims := s.dims
	if dims == 0 {
		dims = 4
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = make([]float32, dims)
		vecs[i][0] = float32(len(texts[i]))
	}
	return vecs, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) TokensUsed() int { return 0 }

type stubLLM struct {
	completeFn func(system, user string) (string, error)
	streamFn   func(turns []services.ChatTurn, onDelta func(string) error) (string, error)

	mu            sync.Mutex
	completeCalls int
	streamCalls   int
}

func (s *stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.mu.Lock()
	s.completeCalls++
	s.mu.Unlock()
	if s.completeFn == nil {
		return "stub completion", nil
	}
	return s.completeFn(systemPrompt, userPrompt)
}

func (s *stubLLM) Stream(ctx context.Context, turns []services.ChatTurn, onDelta func(string) error) (string, error) {
	s.mu.Lock()
	s.streamCalls++
	s.mu.Unlock()
	if s.streamFn == nil {
		return "", nil
	}
	return s.streamFn(turns, onDelta)
}

type stubRPC struct {
	matches  []models.ChunkMatch
	matchErr error

	contexts map[uuid.UUID]*models.ChunkWithContext
	ctxErr   error

	mu            sync.Mutex
	plainCalls    int
	enhancedCalls int
	lastFilters   routedFilters
	lastCount     int
}

func (s *stubRPC) MatchContextualChunks(ctx context.Context, embedding []float32, databaseIDs []string, threshold float64, count int) ([]models.ChunkMatch, error) {
	s.mu.Lock()
	s.plainCalls++
	s.lastCount = count
	s.mu.Unlock()
	return s.matches, s.matchErr
}

func (s *stubRPC) EnhancedMetadataSearch(ctx context.Context, embedding []float32, databaseIDs []string, contentTypes []string, filters routedFilters, threshold float64, count int) ([]models.ChunkMatch, error) {
	s.mu.Lock()
	s.enhancedCalls++
	s.lastFilters = filters
	s.lastCount = count
	s.mu.Unlock()
	return s.matches, s.matchErr
}

func (s *stubRPC) GetChunkWithContext(ctx context.Context, chunkID uuid.UUID, includeAdjacent bool) (*models.ChunkWithContext, error) {
	if s.ctxErr != nil {
		return nil, s.ctxErr
	}
	return s.contexts[chunkID], nil
}

type stubRetrieval struct {
	results []models.RetrievedChunk
	err     error
}

func (s *stubRetrieval) Search(ctx context.Context, query string, filters *models.SearchFilters, limit int) ([]models.RetrievedChunk, error) {
	return s.results, s.err
}

type stubEnricher struct{}

func (stubEnricher) SummarizeDocument(ctx context.Context, title, content string) (string, error) {
	return "summary of " + title, nil
}

func (stubEnricher) EnrichChunks(ctx context.Context, title, documentSummary string, chunks []chunker.Chunk) ([]services.EnrichedChunk, error) {
	enriched := make([]services.EnrichedChunk, len(chunks))
	for i, c := range chunks {
		enriched[i] = services.EnrichedChunk{
			Chunk:             c,
			Context:           "ctx " + c.SectionTitle,
			Summary:           "sum",
			ContextualContent: "ctx\n\n" + c.Content,
		}
	}
	return enriched, nil
}
