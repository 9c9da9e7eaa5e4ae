package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Notion    NotionConfig    `json:"notion"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Session   SessionConfig   `json:"session"`
	Logging   LoggingConfig   `json:"logging"`

	// Sync holds the TOML-defined database registrations and model selection.
	Sync SyncConfig `json:"sync"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

type RedisConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Password          string `json:"password"`
	DB                int    `json:"db"`
	SearchCacheTTL    int    `json:"search_cache_ttl"` // seconds
	EnableSearchCache bool   `json:"enable_search_cache"`
}

// NotionConfig holds credentials and pacing for the external page source.
type NotionConfig struct {
	AccessToken    string `json:"-"`
	BaseURL        string `json:"base_url"`
	Version        string `json:"version"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OpenAIConfig holds credentials for the embedding/chat provider.
type OpenAIConfig struct {
	APIKey             string `json:"-"`
	BaseURL            string `json:"base_url"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	ChatTimeoutSeconds int    `json:"chat_timeout_seconds"`
}

// RetrievalConfig carries the blended-search and rerank parameters.
type RetrievalConfig struct {
	MatchThreshold     float64 `json:"match_threshold"`
	DefaultLimit       int     `json:"default_limit"`
	ContextBoostFactor float64 `json:"context_boost_factor"`
	SummaryBoostFactor float64 `json:"summary_boost_factor"`
	SectionBoostFactor float64 `json:"section_boost_factor"`
}

// SessionConfig carries the idle-monitor timings in seconds so tests can
// shrink them without touching the monitor itself.
type SessionConfig struct {
	IdleTimeoutSeconds     int `json:"idle_timeout_seconds"`
	MonitorIntervalSeconds int `json:"monitor_interval_seconds"`
	MonitorRestartSeconds  int `json:"monitor_restart_seconds"`
	SummaryMessageLimit    int `json:"summary_message_limit"`
}

type LoggingConfig struct {
	Mode string `json:"mode"`
}

// LoadConfig reads environment variables plus the TOML sync config
// (path from KBCHAT_CONFIG, default "config.toml").
func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 120),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "kbchat"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "kbchat"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Redis: RedisConfig{
			Host:              getEnv("REDIS_HOST", ""),
			Port:              getEnvAsInt("REDIS_PORT", 6379),
			Password:          getEnv("REDIS_PASSWORD", ""),
			DB:                getEnvAsInt("REDIS_DB", 0),
			SearchCacheTTL:    getEnvAsInt("REDIS_SEARCH_CACHE_TTL", 900),
			EnableSearchCache: getEnvAsBool("REDIS_ENABLE_SEARCH_CACHE", true),
		},
		Notion: NotionConfig{
			AccessToken:    getEnv("NOTION_ACCESS_TOKEN", ""),
			BaseURL:        getEnv("NOTION_BASE_URL", "https://api.notion.com"),
			Version:        getEnv("NOTION_VERSION", "2022-06-28"),
			TimeoutSeconds: getEnvAsInt("NOTION_TIMEOUT", 30),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			TimeoutSeconds:     getEnvAsInt("OPENAI_TIMEOUT", 60),
			ChatTimeoutSeconds: getEnvAsInt("OPENAI_CHAT_TIMEOUT", 60),
		},
		Retrieval: RetrievalConfig{
			MatchThreshold:     getEnvAsFloat("RETRIEVAL_MATCH_THRESHOLD", 0.1),
			DefaultLimit:       getEnvAsInt("RETRIEVAL_DEFAULT_LIMIT", 10),
			ContextBoostFactor: getEnvAsFloat("RETRIEVAL_CONTEXT_BOOST", 0.05),
			SummaryBoostFactor: getEnvAsFloat("RETRIEVAL_SUMMARY_BOOST", 0.03),
			SectionBoostFactor: getEnvAsFloat("RETRIEVAL_SECTION_BOOST", 0.02),
		},
		Session: SessionConfig{
			IdleTimeoutSeconds:     getEnvAsInt("SESSION_IDLE_TIMEOUT", 600),
			MonitorIntervalSeconds: getEnvAsInt("SESSION_MONITOR_INTERVAL", 120),
			MonitorRestartSeconds:  getEnvAsInt("SESSION_MONITOR_RESTART", 60),
			SummaryMessageLimit:    getEnvAsInt("SESSION_SUMMARY_MESSAGES", 12),
		},
		Logging: LoggingConfig{
			Mode: getEnv("LOG_MODE", "development"),
		},
	}

	syncPath := getEnv("KBCHAT_CONFIG", "config.toml")
	sync, err := LoadSyncConfig(syncPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync config %q: %w", syncPath, err)
	}
	config.Sync = *sync

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.Notion.AccessToken == "" {
		return fmt.Errorf("notion access token is required (NOTION_ACCESS_TOKEN)")
	}

	if config.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key is required (OPENAI_API_KEY)")
	}

	if len(config.Sync.Databases) == 0 {
		return fmt.Errorf("at least one [[databases]] entry is required in the sync config")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
