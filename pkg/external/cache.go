package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/preventive-health-engine/internal/domain"
)

const guidelineCacheKey = "guidelines:all"

// CacheConfig configures the Redis-backed guideline cache
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CacheClient wraps Redis with read-through caching for guideline sets
type CacheClient struct {
	redis *redis.Client
	ttl   time.Duration
}

// cachedGuidelines wraps a guideline set with cache metadata
type cachedGuidelines struct {
	Guidelines []domain.Guideline `json:"guidelines"`
	CachedAt   time.Time          `json:"cached_at"`
}

// NewCacheClient creates a new cache client and verifies connectivity
func NewCacheClient(config CacheConfig) (*CacheClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis: client,
		ttl:   config.TTL,
	}, nil
}

// GetGuidelines retrieves the cached guideline set. The second return
// value is false on a cache miss.
func (c *CacheClient) GetGuidelines(ctx context.Context) ([]domain.Guideline, bool, error) {
	val, err := c.redis.Get(ctx, guidelineCacheKey).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get guideline cache: %w", err)
	}

	var cached cachedGuidelines
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached guidelines: %w", err)
	}

	return cached.Guidelines, true, nil
}

// SetGuidelines stores the guideline set with the configured TTL
func (c *CacheClient) SetGuidelines(ctx context.Context, guidelines []domain.Guideline) error {
	cached := cachedGuidelines{
		Guidelines: guidelines,
		CachedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal guidelines for cache: %w", err)
	}

	if err := c.redis.Set(ctx, guidelineCacheKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set guideline cache: %w", err)
	}

	return nil
}

// Close closes the underlying Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}
