package impl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbchat/config"
	"github.com/kbchat/logger"
	"github.com/kbchat/models"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		MatchThreshold:     0.1,
		DefaultLimit:       10,
		ContextBoostFactor: 0.05,
		SummaryBoostFactor: 0.03,
		SectionBoostFactor: 0.02,
	}
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Databases: []config.DatabaseSyncConfig{
			{
				DatabaseID: "db-1",
				Fields: map[string]config.FieldDefinition{
					"author":   {Type: "text", Filterable: true},
					"category": {Type: "select", Filterable: true},
					"priority": {Type: "number", Filterable: true},
					"tags":     {Type: "multi_select", Filterable: true},
					"done":     {Type: "checkbox", Filterable: true},
					"due":      {Type: "date", Filterable: true},
					"notes":    {Type: "text", Filterable: false},
				},
			},
		},
	}
}

func newTestRetrieval(t *testing.T, rpc *stubRPC) *retrievalService {
	t.Helper()
	cache := NewCacheService(&config.RedisConfig{EnableSearchCache: false}, logger.NewNop())
	svc := NewRetrievalService(rpc, &stubEmbedder{}, cache, testRetrievalConfig(), testSyncConfig(), logger.NewNop())
	return svc.(*retrievalService)
}

func TestRerankAppliesAdditiveBoosts(t *testing.T) {
	results := []models.RetrievedChunk{
		{CombinedScore: 0.5},
		{
			CombinedScore:      0.45,
			ChunkContext:       "some context",
			ChunkSummary:       "some summary",
			DocumentSection:    "Setup",
			HasAdjacentContext: true,
		},
	}

	ranked := rerank(results, testRetrievalConfig())

	// 0.45 + 0.05 + 0.03 + 0.025 + 0.02 beats the plain 0.5.
	assert.InDelta(t, 0.575, ranked[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.5, ranked[1].FinalScore, 1e-9)
	assert.Equal(t, "Setup", ranked[0].DocumentSection)
}

func TestRerankKeepsOrderOnEqualScores(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	results := []models.RetrievedChunk{
		{ChunkID: a, CombinedScore: 0.4},
		{ChunkID: b, CombinedScore: 0.4},
	}

	ranked := rerank(results, testRetrievalConfig())

	assert.Equal(t, a, ranked[0].ChunkID)
	assert.Equal(t, b, ranked[1].ChunkID)
}

func TestRouteFiltersTypedSlots(t *testing.T) {
	svc := newTestRetrieval(t, &stubRPC{})

	routed := svc.routeFilters(&models.SearchFilters{
		MetadataFilters: []models.MetadataFilter{
			{FieldName: "author", Operator: models.FilterOperatorEquals, Values: []string{"alice"}},
			{FieldName: "category", Operator: models.FilterOperatorEquals, Values: []string{"work"}},
			{FieldName: "priority", Operator: models.FilterOperatorEquals, Values: []string{"2.5"}},
			{FieldName: "tags", Operator: models.FilterOperatorIn, Values: []string{"go", "infra"}},
			{FieldName: "done", Operator: models.FilterOperatorEquals, Values: []string{"true"}},
		},
	})

	assert.Equal(t, map[string]string{"author": "alice"}, routed.Text)
	assert.Equal(t, map[string]string{"category": "work"}, routed.Select)
	assert.Equal(t, map[string]float64{"priority": 2.5}, routed.Number)
	assert.Equal(t, map[string][]string{"tags": {"go", "infra"}}, routed.Tags)
	assert.Equal(t, map[string]bool{"done": true}, routed.Checkbox)
	assert.False(t, routed.empty())
}

func TestRouteFiltersDropsUnknownAndMalformed(t *testing.T) {
	svc := newTestRetrieval(t, &stubRPC{})

	routed := svc.routeFilters(&models.SearchFilters{
		MetadataFilters: []models.MetadataFilter{
			{FieldName: "nonexistent", Operator: models.FilterOperatorEquals, Values: []string{"x"}},
			{FieldName: "priority", Operator: models.FilterOperatorEquals, Values: []string{"not-a-number"}},
			{FieldName: "author", Operator: models.FilterOperatorEquals, Values: nil},
		},
	})

	assert.True(t, routed.empty())
}

func TestRouteFiltersDateRange(t *testing.T) {
	svc := newTestRetrieval(t, &stubRPC{})

	from := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	routed := svc.routeFilters(&models.SearchFilters{
		DateRange: &models.DateRange{From: &from, To: &to},
	})

	require.NotNil(t, routed.Date)
	assert.Equal(t, "2026-01-15", routed.Date.From)
	assert.Equal(t, "2026-03-01", routed.Date.To)
}

func TestRouteFiltersDateField(t *testing.T) {
	svc := newTestRetrieval(t, &stubRPC{})

	routed := svc.routeFilters(&models.SearchFilters{
		MetadataFilters: []models.MetadataFilter{
			{FieldName: "due", Operator: models.FilterOperatorRange, Values: []string{"2026-01-01", "2026-02-01"}},
		},
	})

	require.NotNil(t, routed.Date)
	assert.Equal(t, "due", routed.Date.Field)
	assert.Equal(t, "2026-01-01", routed.Date.From)
	assert.Equal(t, "2026-02-01", routed.Date.To)
}

func TestComposeEnrichedContent(t *testing.T) {
	main := &models.DocumentChunk{Content: "body text", ChunkContext: "how it fits"}
	prev := &models.DocumentChunk{ChunkSummary: "previous summary"}
	next := &models.DocumentChunk{ChunkSummary: "next summary"}

	full := composeEnrichedContent(&models.ChunkWithContext{Main: main, Prev: prev, Next: next})
	assert.Equal(t, "[Previous: previous summary]\n[Context: how it fits]\nbody text\n[Following: next summary]", full)

	bare := composeEnrichedContent(&models.ChunkWithContext{Main: &models.DocumentChunk{Content: "body text"}})
	assert.Equal(t, "body text", bare)

	noPrev := composeEnrichedContent(&models.ChunkWithContext{Main: main, Next: next})
	assert.Equal(t, "[Context: how it fits]\nbody text\n[Following: next summary]", noPrev)
}

func TestSearchUsesPlainPathWithoutFilters(t *testing.T) {
	rpc := &stubRPC{matches: []models.ChunkMatch{{ChunkID: uuid.New(), CombinedScore: 0.7}}}
	svc := newTestRetrieval(t, rpc)

	results, err := svc.Search(context.Background(), "how to deploy", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, 1, rpc.plainCalls)
	assert.Equal(t, 0, rpc.enhancedCalls)
	assert.Equal(t, 10, rpc.lastCount)
}

func TestSearchUsesEnhancedPathWithFilters(t *testing.T) {
	rpc := &stubRPC{matches: []models.ChunkMatch{{ChunkID: uuid.New(), CombinedScore: 0.7}}}
	svc := newTestRetrieval(t, rpc)

	filters := &models.SearchFilters{
		MetadataFilters: []models.MetadataFilter{
			{FieldName: "category", Operator: models.FilterOperatorEquals, Values: []string{"work"}},
		},
	}
	_, err := svc.Search(context.Background(), "how to deploy", filters, 5)
	require.NoError(t, err)

	assert.Equal(t, 0, rpc.plainCalls)
	assert.Equal(t, 1, rpc.enhancedCalls)
	assert.Equal(t, map[string]string{"category": "work"}, rpc.lastFilters.Select)
}

func TestSearchContentTypeFilterForcesEnhancedPath(t *testing.T) {
	rpc := &stubRPC{matches: []models.ChunkMatch{{ChunkID: uuid.New()}}}
	svc := newTestRetrieval(t, rpc)

	_, err := svc.Search(context.Background(), "q", &models.SearchFilters{ContentTypes: []string{"meeting"}}, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, rpc.enhancedCalls)
}

func TestSearchNoMatchesReturnsNil(t *testing.T) {
	svc := newTestRetrieval(t, &stubRPC{})

	results, err := svc.Search(context.Background(), "nothing here", nil, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	var matches []models.ChunkMatch
	for i := 0; i < 5; i++ {
		matches = append(matches, models.ChunkMatch{ChunkID: uuid.New(), CombinedScore: float64(i) / 10})
	}
	svc := newTestRetrieval(t, &stubRPC{matches: matches})

	results, err := svc.Search(context.Background(), "q", nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Highest combined score first after reranking.
	assert.InDelta(t, 0.4, results[0].CombinedScore, 1e-9)
}

func TestSearchEnrichmentFailureFallsBackToChunkContent(t *testing.T) {
	id := uuid.New()
	rpc := &stubRPC{
		matches: []models.ChunkMatch{{ChunkID: id, Content: "raw content", CombinedScore: 0.6}},
		ctxErr:  errors.New("lookup failed"),
	}
	svc := newTestRetrieval(t, rpc)

	results, err := svc.Search(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "raw content", results[0].EnrichedContent)
	assert.False(t, results[0].HasAdjacentContext)
}

func TestSearchEnrichmentComposesNeighbours(t *testing.T) {
	id := uuid.New()
	rpc := &stubRPC{
		matches: []models.ChunkMatch{{ChunkID: id, Content: "raw", CombinedScore: 0.6}},
		contexts: map[uuid.UUID]*models.ChunkWithContext{
			id: {
				Main: &models.DocumentChunk{ID: id, Content: "raw", ChunkContext: "fits here"},
				Next: &models.DocumentChunk{ChunkSummary: "what follows"},
			},
		},
	}
	svc := newTestRetrieval(t, rpc)

	results, err := svc.Search(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].HasAdjacentContext)
	assert.Contains(t, results[0].EnrichedContent, "[Context: fits here]")
	assert.Contains(t, results[0].EnrichedContent, "[Following: what follows]")
}

func TestSearchServesSecondCallFromCache(t *testing.T) {
	rpc := &stubRPC{matches: []models.ChunkMatch{{ChunkID: uuid.New(), Content: "cached", CombinedScore: 0.8}}}
	cache := NewCacheServiceWithRedis(nil, &config.RedisConfig{EnableSearchCache: true, SearchCacheTTL: 60}, logger.NewNop())
	svc := NewRetrievalService(rpc, &stubEmbedder{}, cache, testRetrievalConfig(), testSyncConfig(), logger.NewNop()).(*retrievalService)

	first, err := svc.Search(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	require.Len(t, first, 1)

	rpc.matchErr = errors.New("store is down")
	second, err := svc.Search(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "cached", second[0].Content)
}
