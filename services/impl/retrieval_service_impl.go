package impl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kbchat/config"
	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

// chunkRPC abstracts the store's search procedures so the pipeline can
// be tested against a stub.
type chunkRPC interface {
	MatchContextualChunks(ctx context.Context, embedding []float32, databaseIDs []string, threshold float64, count int) ([]models.ChunkMatch, error)
	EnhancedMetadataSearch(ctx context.Context, embedding []float32, databaseIDs []string, contentTypes []string, filters routedFilters, threshold float64, count int) ([]models.ChunkMatch, error)
	GetChunkWithContext(ctx context.Context, chunkID uuid.UUID, includeAdjacent bool) (*models.ChunkWithContext, error)
}

// routedFilters carries metadata predicates in the typed slots the
// enhanced search procedure expects.
type routedFilters struct {
	Text     map[string]string   `json:"text_filter,omitempty"`
	Number   map[string]float64  `json:"number_filter,omitempty"`
	Select   map[string]string   `json:"select_filter,omitempty"`
	Tags     map[string][]string `json:"tag_filter,omitempty"`
	Checkbox map[string]bool     `json:"checkbox_filter,omitempty"`
	Date     *dateRangeFilter    `json:"date_range_filter,omitempty"`
}

type dateRangeFilter struct {
	Field string `json:"field,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

func (f routedFilters) empty() bool {
	return len(f.Text) == 0 && len(f.Number) == 0 && len(f.Select) == 0 &&
		len(f.Tags) == 0 && len(f.Checkbox) == 0 && f.Date == nil
}

// retrievalService embeds the query, runs the blended vector search,
// enriches each hit with its neighbours, and reranks with additive
// boosts.
type retrievalService struct {
	rpc        chunkRPC
	embedder   services.EmbeddingService
	cache      services.CacheService
	cfg        config.RetrievalConfig
	fieldTypes map[string]string
	logger     *logger.Logger
}

func NewRetrievalService(rpc chunkRPC, embedder services.EmbeddingService, cache services.CacheService, cfg config.RetrievalConfig, syncCfg *config.SyncConfig, log *logger.Logger) services.RetrievalService {
	return &retrievalService{
		rpc:        rpc,
		embedder:   embedder,
		cache:      cache,
		cfg:        cfg,
		fieldTypes: fieldTypeIndex(syncCfg),
		logger:     log,
	}
}

// fieldTypeIndex unions the queryable field declarations of every
// registered database.
func fieldTypeIndex(syncCfg *config.SyncConfig) map[string]string {
	index := make(map[string]string)
	if syncCfg == nil {
		return index
	}
	for _, db := range syncCfg.Databases {
		for name, def := range db.Fields {
			if def.Filterable {
				index[name] = def.Type
			}
		}
	}
	return index
}

func (s *retrievalService) Search(ctx context.Context, query string, filters *models.SearchFilters, limit int) ([]models.RetrievedChunk, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	cacheKey := SearchCacheKey(query, filters, limit)
	if cached, ok := s.cache.GetSearchResults(ctx, cacheKey); ok {
		return cached, nil
	}

	embedding, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	routed := s.routeFilters(filters)

	var (
		databaseIDs  []string
		contentTypes []string
	)
	if filters != nil {
		databaseIDs = filters.DatabaseIDs
		contentTypes = filters.ContentTypes
	}

	var matches []models.ChunkMatch
	if routed.empty() && len(contentTypes) == 0 {
		matches, err = s.rpc.MatchContextualChunks(ctx, embedding, databaseIDs, s.cfg.MatchThreshold, 2*limit)
	} else {
		matches, err = s.rpc.EnhancedMetadataSearch(ctx, embedding, databaseIDs, contentTypes, routed, s.cfg.MatchThreshold, 2*limit)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	results := s.enrich(ctx, matches)
	results = rerank(results, s.cfg)
	if len(results) > limit {
		results = results[:limit]
	}

	s.cache.SetSearchResults(ctx, cacheKey, results)
	return results, nil
}

// routeFilters sends each metadata filter to the slot matching its
// declared field type, dropping unknown fields with a warning.
func (s *retrievalService) routeFilters(filters *models.SearchFilters) routedFilters {
	routed := routedFilters{}
	if filters == nil {
		return routed
	}

	if filters.DateRange != nil {
		routed.Date = &dateRangeFilter{}
		if filters.DateRange.From != nil {
			routed.Date.From = filters.DateRange.From.UTC().Format("2006-01-02")
		}
		if filters.DateRange.To != nil {
			routed.Date.To = filters.DateRange.To.UTC().Format("2006-01-02")
		}
	}

	for _, mf := range filters.MetadataFilters {
		fieldType, ok := s.fieldTypes[mf.FieldName]
		if !ok {
			s.logger.Warn("dropping filter on unknown field", "field", mf.FieldName)
			continue
		}
		if len(mf.Values) == 0 {
			continue
		}

		switch fieldType {
		case "text":
			if routed.Text == nil {
				routed.Text = make(map[string]string)
			}
			routed.Text[mf.FieldName] = mf.Values[0]
		case "select":
			if routed.Select == nil {
				routed.Select = make(map[string]string)
			}
			routed.Select[mf.FieldName] = mf.Values[0]
		case "multi_select":
			if routed.Tags == nil {
				routed.Tags = make(map[string][]string)
			}
			routed.Tags[mf.FieldName] = mf.Values
		case "number":
			var n float64
			if _, err := fmt.Sscanf(mf.Values[0], "%g", &n); err != nil {
				s.logger.Warn("dropping malformed number filter", "field", mf.FieldName, "value", mf.Values[0])
				continue
			}
			if routed.Number == nil {
				routed.Number = make(map[string]float64)
			}
			routed.Number[mf.FieldName] = n
		case "checkbox":
			if routed.Checkbox == nil {
				routed.Checkbox = make(map[string]bool)
			}
			routed.Checkbox[mf.FieldName] = mf.Values[0] == "true"
		case "date":
			if routed.Date == nil {
				routed.Date = &dateRangeFilter{}
			}
			routed.Date.Field = mf.FieldName
			if len(mf.Values) > 0 {
				routed.Date.From = mf.Values[0]
			}
			if len(mf.Values) > 1 {
				routed.Date.To = mf.Values[1]
			}
		default:
			s.logger.Warn("dropping filter with unsupported type", "field", mf.FieldName, "type", fieldType)
		}
	}

	return routed
}

// enrich resolves each match's neighbours concurrently and composes
// the enriched content. A failed lookup degrades to the chunk's own
// content instead of failing the query.
func (s *retrievalService) enrich(ctx context.Context, matches []models.ChunkMatch) []models.RetrievedChunk {
	results := make([]models.RetrievedChunk, len(matches))

	var wg sync.WaitGroup
	for i, m := range matches {
		wg.Add(1)
		go func(i int, m models.ChunkMatch) {
			defer wg.Done()
			results[i] = s.enrichOne(ctx, m)
		}(i, m)
	}
	wg.Wait()

	return results
}

func (s *retrievalService) enrichOne(ctx context.Context, m models.ChunkMatch) models.RetrievedChunk {
	result := models.RetrievedChunk{
		ChunkID:         m.ChunkID,
		DocumentID:      m.DocumentID,
		DocumentTitle:   m.DocumentTitle,
		PageURL:         m.PageURL,
		Content:         m.Content,
		EnrichedContent: m.Content,
		CombinedScore:   m.CombinedScore,
		ChunkContext:    m.ChunkContext,
		ChunkSummary:    m.ChunkSummary,
		DocumentSection: m.DocumentSection,
		Metadata: map[string]interface{}{
			"content_similarity":    m.ContentSimilarity,
			"contextual_similarity": m.ContextualSimilarity,
		},
	}

	withContext, err := s.rpc.GetChunkWithContext(ctx, m.ChunkID, true)
	if err != nil || withContext == nil || withContext.Main == nil {
		if err != nil {
			s.logger.Warn("adjacent context lookup failed", "chunk_id", m.ChunkID, "error", err)
		}
		return result
	}

	result.HasAdjacentContext = withContext.Prev != nil || withContext.Next != nil
	result.EnrichedContent = composeEnrichedContent(withContext)
	return result
}

// composeEnrichedContent renders a chunk with its neighbour summaries,
// omitting any section whose source is missing.
func composeEnrichedContent(c *models.ChunkWithContext) string {
	var out string
	if c.Prev != nil && c.Prev.ChunkSummary != "" {
		out += fmt.Sprintf("[Previous: %s]\n", c.Prev.ChunkSummary)
	}
	if c.Main.ChunkContext != "" {
		out += fmt.Sprintf("[Context: %s]\n", c.Main.ChunkContext)
	}
	out += c.Main.Content
	if c.Next != nil && c.Next.ChunkSummary != "" {
		out += fmt.Sprintf("\n[Following: %s]", c.Next.ChunkSummary)
	}
	return out
}

// rerank applies the additive boosts and orders by final score.
func rerank(results []models.RetrievedChunk, cfg config.RetrievalConfig) []models.RetrievedChunk {
	for i := range results {
		score := results[i].CombinedScore
		if results[i].ChunkContext != "" {
			score += cfg.ContextBoostFactor
		}
		if results[i].ChunkSummary != "" {
			score += cfg.SummaryBoostFactor
		}
		if results[i].HasAdjacentContext {
			score += cfg.ContextBoostFactor / 2
		}
		if results[i].DocumentSection != "" {
			score += cfg.SectionBoostFactor
		}
		results[i].FinalScore = score
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	return results
}
