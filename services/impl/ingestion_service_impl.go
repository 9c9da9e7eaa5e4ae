package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kbchat/chunker"
	"github.com/kbchat/config"
	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/notion"
	"github.com/kbchat/services"
	"github.com/kbchat/tokenizer"
)

// ingestionService drives the full page pipeline: fetch, tokenize,
// embed or summarize, chunk and enrich, extract metadata, and write
// everything with a second pass linking adjacent chunks.
type ingestionService struct {
	db       *gorm.DB
	notion   *notion.Client
	embedder services.EmbeddingService
	enricher services.EnrichmentService
	counter  *tokenizer.Tokenizer
	syncCfg  *config.SyncConfig
	cache    services.CacheService
	logger   *logger.Logger
}

func NewIngestionService(
	db *gorm.DB,
	notionClient *notion.Client,
	embedder services.EmbeddingService,
	enricher services.EnrichmentService,
	counter *tokenizer.Tokenizer,
	syncCfg *config.SyncConfig,
	cache services.CacheService,
	log *logger.Logger,
) services.IngestionService {
	return &ingestionService{
		db:       db,
		notion:   notionClient,
		embedder: embedder,
		enricher: enricher,
		counter:  counter,
		syncCfg:  syncCfg,
		cache:    cache,
		logger:   log,
	}
}

func (s *ingestionService) IngestDatabase(ctx context.Context, databaseID string) (*models.IngestReport, error) {
	dbCfg, ok := s.syncCfg.DatabaseByID(databaseID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrUnknownDatabase, databaseID)
	}

	if err := s.registerDatabase(ctx, dbCfg); err != nil {
		return nil, err
	}

	pages, err := s.notion.QueryDatabase(ctx, databaseID, notionFilter(dbCfg.Filter))
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of %s: %w", databaseID, err)
	}

	started := time.Now()
	report := &models.IngestReport{
		DatabaseID:   databaseID,
		PagesFetched: len(pages),
	}
	tokensBefore := s.embedder.TokensUsed()

	batchPause := time.Duration(dbCfg.RateLimitDelay * float64(time.Second))
	for start := 0; start < len(pages); start += dbCfg.BatchSize {
		end := min(start+dbCfg.BatchSize, len(pages))

		for i := start; i < end; i++ {
			page := pages[i]
			chunks, err := s.ingestPage(ctx, dbCfg, &page)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				s.logger.Error("page ingest failed", "page_id", page.ID, "error", err)
				report.PagesFailed++
				report.Failures = append(report.Failures, models.PageFailure{
					PageID: page.ID,
					Reason: err.Error(),
				})
				continue
			}
			report.PagesSucceeded++
			report.ChunksCreated += chunks
		}

		if end < len(pages) && batchPause > 0 {
			select {
			case <-time.After(batchPause):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.NotionDatabase{}).
		Where("database_id = ?", databaseID).
		Update("last_sync_at", now).Error; err != nil {
		s.logger.Warn("failed to record sync time", "database_id", databaseID, "error", err)
	}

	s.cache.InvalidateSearchResults(ctx)

	report.TokensEmbedded = s.embedder.TokensUsed() - tokensBefore
	report.Duration = time.Since(started)
	s.logger.Info("database ingest finished",
		"database_id", databaseID,
		"pages", report.PagesFetched,
		"succeeded", report.PagesSucceeded,
		"failed", report.PagesFailed,
		"chunks", report.ChunksCreated,
		"duration", report.Duration)

	return report, nil
}

func (s *ingestionService) IngestPage(ctx context.Context, databaseID, pageID string) error {
	dbCfg, ok := s.syncCfg.DatabaseByID(databaseID)
	if !ok {
		return fmt.Errorf("%w: %s", services.ErrUnknownDatabase, databaseID)
	}

	page, err := s.notion.GetPage(ctx, pageID)
	if err != nil {
		return err
	}

	if _, err := s.ingestPage(ctx, dbCfg, page); err != nil {
		return err
	}
	s.cache.InvalidateSearchResults(ctx)
	return nil
}

func (s *ingestionService) DeletePage(ctx context.Context, pageID string) error {
	var doc models.Document
	err := s.db.WithContext(ctx).Where("notion_page_id = ?", pageID).First(&doc).Error
	if err == gorm.ErrRecordNotFound {
		return services.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up document for page %s: %w", pageID, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.DocumentChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.DocumentMetadata{}).Error; err != nil {
			return err
		}
		return tx.Delete(&doc).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete document for page %s: %w", pageID, err)
	}

	s.cache.InvalidateSearchResults(ctx)
	s.logger.Info("document deleted", "page_id", pageID, "document_id", doc.ID)
	return nil
}

// ingestPage runs the pipeline for one page and returns the number of
// chunks written.
func (s *ingestionService) ingestPage(ctx context.Context, dbCfg *config.DatabaseSyncConfig, page *notion.Page) (int, error) {
	content, err := s.notion.FetchPageContent(ctx, page)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch content: %w", err)
	}

	fullText := content.Title + "\n" + content.Text
	contentTokens := s.counter.Count(fullText)

	doc, err := s.prepareDocument(ctx, dbCfg, page, content, contentTokens)
	if err != nil {
		return 0, err
	}

	chunks, err := s.processDocument(ctx, dbCfg, doc, page, content, contentTokens)
	if err != nil {
		// Never leave a completed document with missing chunks.
		s.db.WithContext(ctx).Model(doc).
			Update("processing_status", models.ProcessingStatusFailed)
		return 0, err
	}

	return chunks, nil
}

// prepareDocument upserts the document row in processing state. A
// reingest drops all existing chunks and metadata first.
func (s *ingestionService) prepareDocument(ctx context.Context, dbCfg *config.DatabaseSyncConfig, page *notion.Page, content *notion.PageContent, contentTokens int) (*models.Document, error) {
	var existing models.Document
	err := s.db.WithContext(ctx).Where("notion_page_id = ?", page.ID).First(&existing).Error

	var doc *models.Document
	switch {
	case err == nil:
		if delErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("document_id = ?", existing.ID).Delete(&models.DocumentChunk{}).Error; err != nil {
				return err
			}
			return tx.Where("document_id = ?", existing.ID).Delete(&models.DocumentMetadata{}).Error
		}); delErr != nil {
			return nil, fmt.Errorf("failed to clear previous ingest: %w", delErr)
		}
		doc = &existing
	case err == gorm.ErrRecordNotFound:
		doc = &models.Document{ID: uuid.New(), NotionPageID: page.ID}
	default:
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}

	created := page.CreatedTime
	edited := page.LastEditedTime
	props, err := models.ConvertToJSON(page.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}

	doc.NotionDatabaseID = dbCfg.DatabaseID
	doc.Title = content.Title
	doc.Content = content.Text
	doc.PageURL = page.URL
	doc.NotionCreatedTime = &created
	doc.NotionLastEditedTime = &edited
	doc.ContentType = models.ContentType(dbCfg.ContentType)
	doc.TokenCount = contentTokens
	doc.NotionProperties = props
	doc.ProcessingStatus = models.ProcessingStatusProcessing
	doc.IsChunked = false
	doc.ChunkCount = 0
	doc.ContentEmbedding = nil
	doc.SummaryEmbedding = nil
	doc.DocumentSummary = nil

	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}
	return doc, nil
}

// processDocument performs the embed/summarize and chunk/enrich stages
// and writes the final state.
func (s *ingestionService) processDocument(ctx context.Context, dbCfg *config.DatabaseSyncConfig, doc *models.Document, page *notion.Page, content *notion.PageContent, contentTokens int) (int, error) {
	metadataRows, extracted := extractMetadata(doc.ID, dbCfg.Fields, page.Properties)
	if len(content.MediaRefs) > 0 {
		extracted["media_refs"] = content.MediaRefs
	}

	fullText := content.Title + "\n" + content.Text

	// Embed the full text when it fits the provider cap; otherwise
	// embed an LLM summary in its place.
	if contentTokens <= s.syncCfg.Models.MaxEmbeddingTokens {
		vec, err := s.embedder.EmbedOne(ctx, fullText)
		if err != nil {
			return 0, err
		}
		v := pgvector.NewVector(vec)
		doc.ContentEmbedding = &v
	} else {
		summary, err := s.enricher.SummarizeDocument(ctx, content.Title, content.Text)
		if err != nil {
			return 0, err
		}
		vec, err := s.embedder.EmbedOne(ctx, content.Title+"\n"+summary)
		if err != nil {
			return 0, err
		}
		v := pgvector.NewVector(vec)
		doc.ContentEmbedding = &v
		doc.SummaryEmbedding = &v
		doc.DocumentSummary = &summary
		extracted["ai_generated_summary"] = summary
	}

	var chunkRows []models.DocumentChunk
	if contentTokens > dbCfg.ChunkSize {
		var err error
		chunkRows, err = s.buildChunks(ctx, dbCfg, doc, content)
		if err != nil {
			return 0, err
		}
		doc.IsChunked = true
		doc.ChunkCount = len(chunkRows)
	}

	doc.ExtractedMetadata = extracted
	doc.ProcessingStatus = models.ProcessingStatusCompleted

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(doc).Error; err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
		if len(chunkRows) > 0 {
			if err := tx.Create(&chunkRows).Error; err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
			if err := linkChunks(tx, chunkRows); err != nil {
				return fmt.Errorf("failed to link chunks: %w", err)
			}
		}
		if len(metadataRows) > 0 {
			if err := tx.Create(&metadataRows).Error; err != nil {
				return fmt.Errorf("failed to insert metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(chunkRows), nil
}

// buildChunks runs the configured strategy, enriches the result, and
// embeds both the raw and contextual content batches.
func (s *ingestionService) buildChunks(ctx context.Context, dbCfg *config.DatabaseSyncConfig, doc *models.Document, content *notion.PageContent) ([]models.DocumentChunk, error) {
	var strategy chunker.Strategy
	if dbCfg.Strategy == "paragraph" {
		strategy = chunker.NewParagraphStrategy()
	} else {
		strategy = chunker.NewArticleStrategy(s.counter, dbCfg.ChunkSize, dbCfg.ChunkOverlap)
	}

	chunks := strategy.Chunk(content.Title, content.Text)
	if len(chunks) == 0 {
		return nil, nil
	}

	docSummary := ""
	if doc.DocumentSummary != nil {
		docSummary = *doc.DocumentSummary
	}
	enriched, err := s.enricher.EnrichChunks(ctx, content.Title, docSummary, chunks)
	if err != nil {
		return nil, err
	}

	contents := make([]string, len(enriched))
	contextual := make([]string, len(enriched))
	for i, e := range enriched {
		contents[i] = e.Content
		contextual[i] = e.ContextualContent
	}

	contentVecs, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, err
	}
	contextualVecs, err := s.embedder.EmbedBatch(ctx, contextual)
	if err != nil {
		return nil, err
	}

	total := len(enriched)
	rows := make([]models.DocumentChunk, total)
	for i, e := range enriched {
		hierarchy, err := models.ConvertToJSON(e.Hierarchy)
		if err != nil {
			return nil, fmt.Errorf("failed to encode hierarchy: %w", err)
		}

		relative := 0.0
		if total > 1 {
			relative = float64(i) / float64(total-1)
		}

		contentVec := pgvector.NewVector(contentVecs[i])
		contextualVec := pgvector.NewVector(contextualVecs[i])

		rows[i] = models.DocumentChunk{
			ID:               uuid.New(),
			DocumentID:       doc.ID,
			ChunkOrder:       i,
			Content:          e.Content,
			TokenCount:       s.counter.Count(e.Content),
			ChunkContext:     e.Context,
			ChunkSummary:     e.Summary,
			DocumentSection:  e.SectionTitle,
			SectionHierarchy: hierarchy,
			ChunkType:        models.ChunkType(e.ChunkType),
			ChunkPositionMetadata: models.ChunkPositionMetadata{
				Index:            i,
				Total:            total,
				IsFirst:          i == 0,
				IsLast:           i == total-1,
				RelativePosition: relative,
			},
			Embedding:           &contentVec,
			ContextualEmbedding: &contextualVec,
		}
	}

	return rows, nil
}

// linkChunks is the second pass wiring prev/next ids by chunk order.
// It runs only after every chunk row is inserted.
func linkChunks(tx *gorm.DB, rows []models.DocumentChunk) error {
	for i := range rows {
		updates := map[string]interface{}{}
		if i > 0 {
			updates["prev_chunk_id"] = rows[i-1].ID
		}
		if i < len(rows)-1 {
			updates["next_chunk_id"] = rows[i+1].ID
		}
		if len(updates) == 0 {
			continue
		}
		if err := tx.Model(&models.DocumentChunk{}).
			Where("id = ?", rows[i].ID).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

// registerDatabase upserts the database registration from the sync
// config, snapshotting the remote property schema when reachable.
func (s *ingestionService) registerDatabase(ctx context.Context, dbCfg *config.DatabaseSyncConfig) error {
	fieldDefs := make(models.FieldDefinitions, len(dbCfg.Fields))
	queryable := make(models.FieldDefinitions)
	for name, def := range dbCfg.Fields {
		converted := models.FieldDefinition{
			Type:       def.Type,
			Source:     def.Source,
			Filterable: def.Filterable,
		}
		fieldDefs[name] = converted
		if def.Filterable {
			queryable[name] = converted
		}
	}

	var existing models.NotionDatabase
	err := s.db.WithContext(ctx).Where("database_id = ?", dbCfg.DatabaseID).First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return fmt.Errorf("failed to look up database registration: %w", err)
	}

	existing.DatabaseID = dbCfg.DatabaseID
	existing.Name = dbCfg.Name
	existing.FieldDefinitions = fieldDefs
	existing.QueryableFields = queryable
	existing.IsActive = true

	// Schema is informational; a fetch failure does not block the sync.
	if remote, err := s.notion.GetDatabase(ctx, dbCfg.DatabaseID); err != nil {
		s.logger.Warn("failed to fetch remote database schema", "database_id", dbCfg.DatabaseID, "error", err)
	} else if len(remote.Properties) > 0 {
		existing.NotionSchema = datatypes.JSON(remote.Properties)
	}

	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to register database %s: %w", dbCfg.DatabaseID, err)
	}
	return nil
}

// notionFilter converts the sync config's simple property=value pairs
// into the remote filter object.
func notionFilter(filter map[string]string) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}

	var conditions []map[string]interface{}
	for property, value := range filter {
		conditions = append(conditions, map[string]interface{}{
			"property": property,
			"select":   map[string]interface{}{"equals": value},
		})
	}
	if len(conditions) == 1 {
		return conditions[0]
	}
	return map[string]interface{}{"and": conditions}
}
