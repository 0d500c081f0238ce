package domain

import (
	"context"
	"time"
)

// Cache is the bounded prediction cache plus windowed counters.
// Implementations: in-memory LRU, Redis, or two-phase LRU + Redis.
type Cache interface {
	// Get retrieves a raw value. Returns nil, nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a raw value with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// GetPrediction retrieves a cached prediction by transaction ID.
	// Returns nil, nil on a miss.
	GetPrediction(ctx context.Context, txID string) (*PredictionResult, error)

	// SetPrediction caches a prediction keyed by transaction ID.
	SetPrediction(ctx context.Context, txID string, result *PredictionResult, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used for customer velocity tracking.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings. LocalMaxSize bounds the prediction cache;
	// insertion beyond capacity evicts the least recently used entry.
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true, check local LRU first, then Redis.
	EnableTwoPhase bool
}
