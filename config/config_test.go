package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSyncTOML = `
[models]
embedding_model = "text-embedding-3-small"
chat_model = "gpt-4o-mini"
max_tokens = 1024

[[databases]]
database_id = "db-notes"
name = "Notes"
chunk_size = 800
chunk_overlap = 80
strategy = "article"
content_type = "note"

[databases.filter]
Status = "Published"

[databases.fields.category]
type = "select"
source = "Category"
filterable = true

[databases.fields.author]
type = "text"
source = "Author"

[[databases]]
database_id = "db-bookmarks"
`

func writeSyncConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("NOTION_ACCESS_TOKEN", "ntn_token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoadSyncConfigParsesDatabases(t *testing.T) {
	path := writeSyncConfig(t, sampleSyncTOML)

	cfg, err := LoadSyncConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Databases, 2)

	notes := cfg.Databases[0]
	assert.Equal(t, "db-notes", notes.DatabaseID)
	assert.Equal(t, "Notes", notes.Name)
	assert.Equal(t, 800, notes.ChunkSize)
	assert.Equal(t, 80, notes.ChunkOverlap)
	assert.Equal(t, "note", notes.ContentType)
	assert.Equal(t, map[string]string{"Status": "Published"}, notes.Filter)

	require.Contains(t, notes.Fields, "category")
	assert.True(t, notes.Fields["category"].Filterable)
	assert.Equal(t, "Category", notes.Fields["category"].Source)
	assert.False(t, notes.Fields["author"].Filterable)
}

func TestLoadSyncConfigAppliesDefaults(t *testing.T) {
	path := writeSyncConfig(t, sampleSyncTOML)

	cfg, err := LoadSyncConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 1536, cfg.Models.EmbeddingDimensions)
	assert.Equal(t, "cl100k_base", cfg.Models.TokenizerEncoding)
	assert.Equal(t, 8000, cfg.Models.MaxEmbeddingTokens)

	bookmarks := cfg.Databases[1]
	assert.Equal(t, "db-bookmarks", bookmarks.Name)
	assert.Equal(t, 5, bookmarks.BatchSize)
	assert.Equal(t, 0.35, bookmarks.RateLimitDelay)
	assert.Equal(t, 1000, bookmarks.ChunkSize)
	assert.Equal(t, 100, bookmarks.ChunkOverlap)
	assert.Equal(t, "article", bookmarks.Strategy)
	assert.Equal(t, "document", bookmarks.ContentType)
}

func TestLoadSyncConfigRejectsMissingDatabaseID(t *testing.T) {
	path := writeSyncConfig(t, `
[[databases]]
name = "No ID"
`)
	_, err := LoadSyncConfig(path)
	assert.ErrorContains(t, err, "database_id is required")
}

func TestLoadSyncConfigRejectsUnknownStrategy(t *testing.T) {
	path := writeSyncConfig(t, `
[[databases]]
database_id = "db-1"
strategy = "sliding_window"
`)
	_, err := LoadSyncConfig(path)
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestLoadSyncConfigMissingFile(t *testing.T) {
	_, err := LoadSyncConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadConfigDefaultsAndEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KBCHAT_CONFIG", writeSyncConfig(t, sampleSyncTOML))
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RETRIEVAL_MATCH_THRESHOLD", "0.25")
	t.Setenv("SESSION_IDLE_TIMEOUT", "300")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddress())
	assert.Equal(t, 0.25, cfg.Retrieval.MatchThreshold)
	assert.Equal(t, 300, cfg.Session.IdleTimeoutSeconds)

	// Untouched values keep their defaults.
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("KBCHAT_CONFIG", writeSyncConfig(t, sampleSyncTOML))
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("NOTION_ACCESS_TOKEN", "token")
	t.Setenv("OPENAI_API_KEY", "key")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "database password")
}

func TestLoadConfigRequiresSyncDatabases(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KBCHAT_CONFIG", writeSyncConfig(t, `[models]`))

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "at least one")
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "kb",
		Password: "pw",
		Name:     "kbchat",
		SSLMode:  "require",
	}}
	assert.Equal(t,
		"host=db.internal port=5433 user=kb password=pw dbname=kbchat sslmode=require",
		cfg.GetDatabaseDSN())
}
