package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type ContentType string
type ProcessingStatus string
type ChunkType string

const (
	ContentTypeDocument      ContentType = "document"
	ContentTypeMeeting       ContentType = "meeting"
	ContentTypeProject       ContentType = "project"
	ContentTypeDocumentation ContentType = "documentation"
	ContentTypeNote          ContentType = "note"
	ContentTypeBookmark      ContentType = "bookmark"

	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"

	ChunkTypeContent       ChunkType = "content"
	ChunkTypeHeader        ChunkType = "header"
	ChunkTypeSection       ChunkType = "section"
	ChunkTypeNotes         ChunkType = "notes"
	ChunkTypeHighlight     ChunkType = "highlight"
	ChunkTypeDocumentation ChunkType = "documentation"
)

// ExtractedMetadata holds the typed-promoted fields for a document plus
// any generated values (ai summary, media references). Stored as JSONB.
type ExtractedMetadata map[string]interface{}

func (m ExtractedMetadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(m)
}

func (m *ExtractedMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), m)
	}

	return json.Unmarshal(bytes, m)
}

// Document is one ingested remote page.
type Document struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	NotionPageID     string    `json:"notion_page_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	NotionDatabaseID string    `json:"notion_database_id" gorm:"type:varchar(64);index;not null"`

	Title   string `json:"title" gorm:"not null"`
	Content string `json:"content" gorm:"type:text"`

	ContentEmbedding *pgvector.Vector `json:"-" gorm:"type:vector(1536)"`
	SummaryEmbedding *pgvector.Vector `json:"-" gorm:"type:vector(1536)"`
	DocumentSummary  *string          `json:"document_summary,omitempty" gorm:"type:text"`

	PageURL              string     `json:"page_url"`
	NotionCreatedTime    *time.Time `json:"notion_created_time"`
	NotionLastEditedTime *time.Time `json:"notion_last_edited_time"`

	ContentType ContentType `json:"content_type" gorm:"type:varchar(50);not null;default:'document'"`

	IsChunked  bool `json:"is_chunked" gorm:"default:false"`
	ChunkCount int  `json:"chunk_count" gorm:"default:0"`
	TokenCount int  `json:"token_count" gorm:"default:0"`

	NotionProperties  datatypes.JSON    `json:"notion_properties" gorm:"type:jsonb;default:'{}'"`
	ExtractedMetadata ExtractedMetadata `json:"extracted_metadata" gorm:"type:jsonb;default:'{}'"`

	ProcessingStatus ProcessingStatus `json:"processing_status" gorm:"type:varchar(20);not null;default:'processing'"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Document) TableName() string {
	return "documents"
}

// ChunkPositionMetadata records where a chunk sits inside its document.
type ChunkPositionMetadata struct {
	Index            int     `json:"index"`
	Total            int     `json:"total"`
	IsFirst          bool    `json:"is_first"`
	IsLast           bool    `json:"is_last"`
	RelativePosition float64 `json:"relative_position"` // [0,1]
}

func (c ChunkPositionMetadata) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *ChunkPositionMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), c)
	}

	return json.Unmarshal(bytes, c)
}

// DocumentChunk is one bounded slice of a document. Chunks of a document
// form a doubly-linked list ordered by ChunkOrder; PrevChunkID/NextChunkID
// are filled by a second pass after all chunks are inserted.
type DocumentChunk struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;index;not null"`
	ChunkOrder int       `json:"chunk_order" gorm:"not null"`

	Content    string `json:"content" gorm:"type:text;not null"`
	TokenCount int    `json:"token_count" gorm:"default:0"`

	ChunkContext string `json:"chunk_context" gorm:"type:text"`
	ChunkSummary string `json:"chunk_summary" gorm:"type:text"`

	DocumentSection  string         `json:"document_section"`
	SectionHierarchy datatypes.JSON `json:"section_hierarchy" gorm:"type:jsonb;default:'[]'"`

	ChunkType             ChunkType             `json:"chunk_type" gorm:"type:varchar(30);not null;default:'content'"`
	ChunkPositionMetadata ChunkPositionMetadata `json:"chunk_position_metadata" gorm:"type:jsonb"`

	Embedding           *pgvector.Vector `json:"-" gorm:"type:vector(1536)"`
	ContextualEmbedding *pgvector.Vector `json:"-" gorm:"type:vector(1536)"`

	PrevChunkID *uuid.UUID `json:"prev_chunk_id" gorm:"type:uuid"`
	NextChunkID *uuid.UUID `json:"next_chunk_id" gorm:"type:uuid"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// DocumentMetadata is one typed projection row per (document, promoted
// field) so remote properties can be filtered server-side.
type DocumentMetadata struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;index;not null"`
	FieldName  string    `json:"field_name" gorm:"type:varchar(255);index;not null"`
	FieldType  string    `json:"field_type" gorm:"type:varchar(30);not null"`

	TextValue     *string        `json:"text_value,omitempty"`
	NumberValue   *float64       `json:"number_value,omitempty"`
	DateValue     *time.Time     `json:"date_value,omitempty" gorm:"type:date"`
	DatetimeValue *time.Time     `json:"datetime_value,omitempty"`
	BooleanValue  *bool          `json:"boolean_value,omitempty"`
	ArrayValue    pq.StringArray `json:"array_value,omitempty" gorm:"type:text[]"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (DocumentMetadata) TableName() string {
	return "document_metadata"
}
