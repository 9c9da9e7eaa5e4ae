package impl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kbchat/models"
)

// gormChunkRPC calls the store's search procedures through gorm.
type gormChunkRPC struct {
	db *gorm.DB
}

func NewChunkRPC(db *gorm.DB) *gormChunkRPC {
	return &gormChunkRPC{db: db}
}

func (r *gormChunkRPC) MatchContextualChunks(ctx context.Context, embedding []float32, databaseIDs []string, threshold float64, count int) ([]models.ChunkMatch, error) {
	var matches []models.ChunkMatch
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM match_contextual_chunks(?::vector, ?::text[], ?, ?)`,
			pgvector.NewVector(embedding),
			pq.Array(databaseIDs),
			threshold,
			count,
		).Scan(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("match_contextual_chunks failed: %w", err)
	}
	return matches, nil
}

func (r *gormChunkRPC) EnhancedMetadataSearch(ctx context.Context, embedding []float32, databaseIDs []string, contentTypes []string, filters routedFilters, threshold float64, count int) ([]models.ChunkMatch, error) {
	encode := func(v interface{}) (string, error) {
		if v == nil {
			return "null", nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	textJSON, err := encode(filters.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode text filter: %w", err)
	}
	numberJSON, err := encode(filters.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to encode number filter: %w", err)
	}
	selectJSON, err := encode(filters.Select)
	if err != nil {
		return nil, fmt.Errorf("failed to encode select filter: %w", err)
	}
	tagJSON, err := encode(filters.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tag filter: %w", err)
	}
	checkboxJSON, err := encode(filters.Checkbox)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkbox filter: %w", err)
	}
	var dateJSON = "null"
	if filters.Date != nil {
		dateJSON, err = encode(filters.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to encode date filter: %w", err)
		}
	}

	var matches []models.ChunkMatch
	err = r.db.WithContext(ctx).
		Raw(`SELECT * FROM enhanced_metadata_search(?::vector, ?::text[], ?::text[], ?::jsonb, ?::jsonb, ?::jsonb, ?::jsonb, ?::jsonb, ?::jsonb, ?, ?)`,
			pgvector.NewVector(embedding),
			pq.Array(databaseIDs),
			pq.Array(contentTypes),
			textJSON,
			numberJSON,
			selectJSON,
			tagJSON,
			checkboxJSON,
			dateJSON,
			threshold,
			count,
		).Scan(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("enhanced_metadata_search failed: %w", err)
	}
	return matches, nil
}

// GetChunkWithContext resolves a chunk and its linked neighbours by
// row reads rather than a stored procedure, which keeps the lookup
// portable across stores.
func (r *gormChunkRPC) GetChunkWithContext(ctx context.Context, chunkID uuid.UUID, includeAdjacent bool) (*models.ChunkWithContext, error) {
	var main models.DocumentChunk
	if err := r.db.WithContext(ctx).First(&main, "id = ?", chunkID).Error; err != nil {
		return nil, fmt.Errorf("failed to load chunk %s: %w", chunkID, err)
	}

	result := &models.ChunkWithContext{Main: &main}
	if !includeAdjacent {
		return result, nil
	}

	if main.PrevChunkID != nil {
		var prev models.DocumentChunk
		if err := r.db.WithContext(ctx).First(&prev, "id = ?", *main.PrevChunkID).Error; err == nil {
			result.Prev = &prev
		}
	}
	if main.NextChunkID != nil {
		var next models.DocumentChunk
		if err := r.db.WithContext(ctx).First(&next, "id = ?", *main.NextChunkID).Error; err == nil {
			result.Next = &next
		}
	}

	return result, nil
}
