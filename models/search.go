package models

import (
	"time"

	"github.com/google/uuid"
)

type FilterOperator string

const (
	FilterOperatorEquals   FilterOperator = "equals"
	FilterOperatorIn       FilterOperator = "in"
	FilterOperatorContains FilterOperator = "contains"
	FilterOperatorRange    FilterOperator = "range"
)

// MetadataFilter is one typed predicate against a queryable field.
type MetadataFilter struct {
	FieldName string         `json:"field_name" binding:"required"`
	Operator  FilterOperator `json:"operator" binding:"required"`
	Values    []string       `json:"values"`
}

// DateRange bounds a search by document date. Either side may be nil.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// SearchFilters narrows a search before vector matching.
type SearchFilters struct {
	DatabaseIDs     []string         `json:"database_ids,omitempty"`
	ContentTypes    []string         `json:"content_types,omitempty"`
	DateRange       *DateRange       `json:"date_range,omitempty"`
	MetadataFilters []MetadataFilter `json:"metadata_filters,omitempty"`
}

// Empty reports whether no filtering was requested at all.
func (f *SearchFilters) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.DatabaseIDs) == 0 && len(f.ContentTypes) == 0 &&
		f.DateRange == nil && len(f.MetadataFilters) == 0
}

type SearchRequest struct {
	Query   string         `json:"query" binding:"required"`
	Limit   int            `json:"limit"`
	Filters *SearchFilters `json:"filters,omitempty"`
}

type SearchResponse struct {
	Results []RetrievedChunk `json:"results"`
	Query   string           `json:"query"`
	Total   int              `json:"total"`
}

// RetrievedChunk is one reranked search hit with its composed context.
type RetrievedChunk struct {
	ChunkID            uuid.UUID              `json:"chunk_id"`
	DocumentID         uuid.UUID              `json:"document_id"`
	DocumentTitle      string                 `json:"document_title"`
	PageURL            string                 `json:"page_url,omitempty"`
	Content            string                 `json:"content"`
	EnrichedContent    string                 `json:"enriched_content"`
	CombinedScore      float64                `json:"combined_score"`
	FinalScore         float64                `json:"final_score"`
	ChunkContext       string                 `json:"chunk_context,omitempty"`
	ChunkSummary       string                 `json:"chunk_summary,omitempty"`
	DocumentSection    string                 `json:"document_section,omitempty"`
	HasAdjacentContext bool                   `json:"has_adjacent_context"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// ChunkMatch is one row returned by the blended vector search
// procedures, before enrichment and reranking.
type ChunkMatch struct {
	ChunkID              uuid.UUID `gorm:"column:chunk_id"`
	DocumentID           uuid.UUID `gorm:"column:document_id"`
	DocumentTitle        string    `gorm:"column:document_title"`
	PageURL              string    `gorm:"column:page_url"`
	Content              string    `gorm:"column:content"`
	ChunkContext         string    `gorm:"column:chunk_context"`
	ChunkSummary         string    `gorm:"column:chunk_summary"`
	DocumentSection      string    `gorm:"column:document_section"`
	ContentSimilarity    float64   `gorm:"column:content_similarity"`
	ContextualSimilarity float64   `gorm:"column:contextual_similarity"`
	CombinedScore        float64   `gorm:"column:combined_score"`
}

// ChunkWithContext is the result of resolving a chunk together with its
// linked neighbours.
type ChunkWithContext struct {
	Main *DocumentChunk
	Prev *DocumentChunk
	Next *DocumentChunk
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages  []ChatInputMessage `json:"messages" binding:"required"`
	SessionID *uuid.UUID         `json:"session_id,omitempty"`
	Stream    bool               `json:"stream"`
	Filters   *SearchFilters     `json:"filters,omitempty"`
}

type ChatInputMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ChatResponse is the non-streaming form of a chat answer.
type ChatResponse struct {
	Content   string     `json:"content"`
	Citations Citations  `json:"citations"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
}

// IngestReport summarises one ingest_database run.
type IngestReport struct {
	DatabaseID     string        `json:"database_id"`
	PagesFetched   int           `json:"pages_fetched"`
	PagesSucceeded int           `json:"pages_succeeded"`
	PagesFailed    int           `json:"pages_failed"`
	ChunksCreated  int           `json:"chunks_created"`
	TokensEmbedded int           `json:"tokens_embedded"`
	Duration       time.Duration `json:"duration"`
	Failures       []PageFailure `json:"failures,omitempty"`
}

// PageFailure records one page that could not be ingested.
type PageFailure struct {
	PageID string `json:"page_id"`
	Reason string `json:"reason"`
}
