package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbchat/config"
	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

const (
	// searchCachePrefix namespaces all search-result cache keys.
	searchCachePrefix = "search_results"

	// defaultSearchCacheTTL applies when no TTL is configured.
	defaultSearchCacheTTL = 15 * 60
)

// cacheServiceImpl caches reranked search results in Redis, falling
// back to an in-process map when Redis is unreachable. Write paths
// (reingest, delete) invalidate the whole namespace.
type cacheServiceImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	config   *config.RedisConfig
	enabled  bool
	useRedis bool
	logger   *logger.Logger
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheService connects to Redis when configured; a missing or
// unreachable Redis degrades to the in-memory cache without error.
func NewCacheService(cfg *config.RedisConfig, log *logger.Logger) services.CacheService {
	if cfg == nil || !cfg.EnableSearchCache {
		return &cacheServiceImpl{enabled: false, logger: log}
	}

	svc := &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		config:   cfg,
		enabled:  true,
		logger:   log,
	}

	if cfg.Host != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err == nil {
			svc.redis = redisClient
			svc.useRedis = true
		} else {
			log.Warn("redis unreachable, using in-memory search cache", "error", err)
		}
	}

	return svc
}

// NewCacheServiceWithRedis wires an existing Redis client, used by
// tests with miniredis.
func NewCacheServiceWithRedis(redisClient *redis.Client, cfg *config.RedisConfig, log *logger.Logger) services.CacheService {
	return &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		redis:    redisClient,
		config:   cfg,
		enabled:  cfg != nil && cfg.EnableSearchCache,
		useRedis: redisClient != nil,
		logger:   log,
	}
}

func (s *cacheServiceImpl) GetSearchResults(ctx context.Context, key string) ([]models.RetrievedChunk, bool) {
	if !s.enabled {
		return nil, false
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			var results []models.RetrievedChunk
			if err := json.Unmarshal(data, &results); err != nil {
				s.redis.Del(ctx, prefixedKey)
				return nil, false
			}
			return results, true
		}
		if err != redis.Nil {
			return s.getFromMemCache(prefixedKey)
		}
		return nil, false
	}

	return s.getFromMemCache(prefixedKey)
}

func (s *cacheServiceImpl) getFromMemCache(prefixedKey string) ([]models.RetrievedChunk, bool) {
	s.mu.RLock()
	entry, exists := s.memCache[prefixedKey]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, prefixedKey)
		s.mu.Unlock()
		return nil, false
	}

	var results []models.RetrievedChunk
	if err := json.Unmarshal(entry.data, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (s *cacheServiceImpl) SetSearchResults(ctx context.Context, key string, results []models.RetrievedChunk) {
	if !s.enabled || results == nil {
		return
	}

	data, err := json.Marshal(results)
	if err != nil {
		s.logger.Warn("failed to marshal search results for caching", "error", err)
		return
	}

	ttl := time.Duration(defaultSearchCacheTTL) * time.Second
	if s.config != nil && s.config.SearchCacheTTL > 0 {
		ttl = time.Duration(s.config.SearchCacheTTL) * time.Second
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, prefixedKey, data, ttl).Err(); err != nil {
			s.setInMemCache(prefixedKey, data, ttl)
		}
		return
	}

	s.setInMemCache(prefixedKey, data, ttl)
}

func (s *cacheServiceImpl) setInMemCache(prefixedKey string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	s.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

// InvalidateSearchResults drops every cached search result. Called
// after any document write so stale hits never outlive an ingest.
func (s *cacheServiceImpl) InvalidateSearchResults(ctx context.Context) {
	if !s.enabled {
		return
	}

	if s.useRedis && s.redis != nil {
		pattern := searchCachePrefix + ":*"
		var cursor uint64
		for {
			keys, newCursor, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				s.redis.Del(ctx, keys...)
			}
			cursor = newCursor
			if cursor == 0 {
				break
			}
		}
	}

	s.mu.Lock()
	s.memCache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

func (s *cacheServiceImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", searchCachePrefix, key)
}

// SearchCacheKey derives a stable key from the query, the normalized
// filters, and the result count.
func SearchCacheKey(query string, filters *models.SearchFilters, limit int) string {
	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("|")
	fmt.Fprintf(&sb, "%d|", limit)

	if filters != nil {
		dbs := append([]string(nil), filters.DatabaseIDs...)
		sort.Strings(dbs)
		sb.WriteString(strings.Join(dbs, ","))
		sb.WriteString("|")

		types := append([]string(nil), filters.ContentTypes...)
		sort.Strings(types)
		sb.WriteString(strings.Join(types, ","))
		sb.WriteString("|")

		if filters.DateRange != nil {
			if filters.DateRange.From != nil {
				sb.WriteString(filters.DateRange.From.UTC().Format(time.RFC3339))
			}
			sb.WriteString("..")
			if filters.DateRange.To != nil {
				sb.WriteString(filters.DateRange.To.UTC().Format(time.RFC3339))
			}
		}
		sb.WriteString("|")

		for _, mf := range filters.MetadataFilters {
			fmt.Fprintf(&sb, "%s:%s:%s;", mf.FieldName, mf.Operator, strings.Join(mf.Values, ","))
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
