package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// SyncConfig is the TOML file enumerating the Notion databases to ingest
// and the model selection shared by all of them.
type SyncConfig struct {
	Models    ModelsConfig         `toml:"models"`
	Databases []DatabaseSyncConfig `toml:"databases"`
}

// ModelsConfig selects the embedding and chat models and the tokenizer
// encoding used for all sizing decisions.
type ModelsConfig struct {
	EmbeddingModel      string  `toml:"embedding_model"`
	EmbeddingDimensions int     `toml:"embedding_dimensions"`
	ChatModel           string  `toml:"chat_model"`
	Temperature         float64 `toml:"temperature"`
	MaxTokens           int     `toml:"max_tokens"`
	TokenizerEncoding   string  `toml:"tokenizer_encoding"`
	MaxEmbeddingTokens  int     `toml:"max_embedding_tokens"`
}

// DatabaseSyncConfig is one [[databases]] entry: a remote database
// registration plus its per-database sync settings.
type DatabaseSyncConfig struct {
	DatabaseID     string                     `toml:"database_id"`
	Name           string                     `toml:"name"`
	BatchSize      int                        `toml:"batch_size"`
	RateLimitDelay float64                    `toml:"rate_limit_delay"` // seconds between remote calls
	MaxRetries     int                        `toml:"max_retries"`
	ChunkSize      int                        `toml:"chunk_size"`
	ChunkOverlap   int                        `toml:"chunk_overlap"`
	Strategy       string                     `toml:"strategy"` // "article" (default) or "paragraph"
	ContentType    string                     `toml:"content_type"`
	Filter         map[string]string          `toml:"filter"`
	Fields         map[string]FieldDefinition `toml:"fields"`
}

// FieldDefinition maps a logical field name onto a Notion property and
// marks whether it is promoted into the typed metadata projections.
type FieldDefinition struct {
	Type       string `toml:"type" json:"type"` // text|number|select|multi_select|date|checkbox
	Source     string `toml:"source" json:"source"`
	Filterable bool   `toml:"filterable" json:"filterable"`
}

// LoadSyncConfig parses the TOML sync config and applies defaults.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync config: %w", err)
	}

	var cfg SyncConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sync config: %w", err)
	}

	cfg.applyDefaults()

	for i := range cfg.Databases {
		db := &cfg.Databases[i]
		if db.DatabaseID == "" {
			return nil, fmt.Errorf("databases[%d]: database_id is required", i)
		}
		if db.Strategy != "" && db.Strategy != "article" && db.Strategy != "paragraph" {
			return nil, fmt.Errorf("databases[%d]: unknown strategy %q", i, db.Strategy)
		}
	}

	return &cfg, nil
}

func (c *SyncConfig) applyDefaults() {
	if c.Models.EmbeddingModel == "" {
		c.Models.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Models.EmbeddingDimensions <= 0 {
		c.Models.EmbeddingDimensions = 1536
	}
	if c.Models.ChatModel == "" {
		c.Models.ChatModel = "gpt-4o-mini"
	}
	if c.Models.MaxTokens <= 0 {
		c.Models.MaxTokens = 2048
	}
	if c.Models.TokenizerEncoding == "" {
		c.Models.TokenizerEncoding = "cl100k_base"
	}
	if c.Models.MaxEmbeddingTokens <= 0 {
		c.Models.MaxEmbeddingTokens = 8000
	}

	for i := range c.Databases {
		db := &c.Databases[i]
		if db.BatchSize <= 0 {
			db.BatchSize = 5
		}
		if db.RateLimitDelay <= 0 {
			db.RateLimitDelay = 0.35
		}
		if db.MaxRetries <= 0 {
			db.MaxRetries = 3
		}
		if db.ChunkSize <= 0 {
			db.ChunkSize = 1000
		}
		if db.ChunkOverlap < 0 {
			db.ChunkOverlap = 0
		}
		if db.ChunkOverlap == 0 {
			db.ChunkOverlap = 100
		}
		if db.Strategy == "" {
			db.Strategy = "article"
		}
		if db.ContentType == "" {
			db.ContentType = "document"
		}
		if db.Name == "" {
			db.Name = strings.TrimSpace(db.DatabaseID)
		}
	}
}

// DatabaseByID returns the sync settings for a registered database.
func (c *SyncConfig) DatabaseByID(databaseID string) (*DatabaseSyncConfig, bool) {
	for i := range c.Databases {
		if c.Databases[i].DatabaseID == databaseID {
			return &c.Databases[i], true
		}
	}
	return nil, false
}
