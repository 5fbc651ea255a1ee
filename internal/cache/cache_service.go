// Package cache provides Redis-backed caching for verification
// results and agent presence.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ea-license-server/config"
	"ea-license-server/internal/logging"

	"github.com/redis/go-redis/v9"
)

// CacheService provides Redis caching with graceful degradation.
// When Redis is down, callers get errors and fall back to the
// database; nothing here is a source of truth.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	logger       *logging.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int

	maxFailures int
}

// Key layouts
const (
	keyVerifyResult  = "license:%s:verify:%s" // license key, account ID
	keyAgentPresence = "agent:%s:last_seen"   // license ID
)

// PresenceTTL is how long an agent counts as online after its last
// contact
const PresenceTTL = 3 * time.Minute

// NewCacheService creates a CacheService and verifies connectivity.
// A failed initial ping returns the service in degraded mode rather
// than an error.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:      client,
		config:      cfg,
		logger:      logging.WithComponent("cache"),
		maxFailures: 3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.WithError(err).Warn("initial Redis connection failed, starting degraded")
		return cs, nil
	}

	cs.healthy = true
	cs.logger.Info("Redis connected", "address", cfg.Address)
	return cs, nil
}

// IsHealthy returns whether Redis is currently available
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("Redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy && cs.failureCount >= cs.maxFailures {
		cs.logger.Info("Redis recovered")
	}
	cs.failureCount = 0
	cs.healthy = true
}

// CachedVerifyResult is the subset of a verification outcome worth
// caching. Only positive results are cached; rejections must always
// re-run the full pipeline so state changes apply immediately.
type CachedVerifyResult struct {
	Valid         bool      `json:"valid"`
	LicenseID     string    `json:"license_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	DaysRemaining int       `json:"days_remaining"`
}

// GetVerifyResult returns a cached positive verification, nil on miss
func (cs *CacheService) GetVerifyResult(ctx context.Context, licenseKey, accountID string) (*CachedVerifyResult, error) {
	if !cs.IsHealthy() {
		return nil, fmt.Errorf("cache unavailable")
	}

	data, err := cs.client.Get(ctx, fmt.Sprintf(keyVerifyResult, licenseKey, accountID)).Bytes()
	if err == redis.Nil {
		cs.recordSuccess()
		return nil, nil
	}
	if err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("cache get failed: %w", err)
	}
	cs.recordSuccess()

	var result CachedVerifyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return &result, nil
}

// SetVerifyResult caches a positive verification for the given TTL
func (cs *CacheService) SetVerifyResult(ctx context.Context, licenseKey, accountID string, result *CachedVerifyResult, ttl time.Duration) error {
	if !cs.IsHealthy() {
		return fmt.Errorf("cache unavailable")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode verify result: %w", err)
	}

	if err := cs.client.Set(ctx, fmt.Sprintf(keyVerifyResult, licenseKey, accountID), data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("cache set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// InvalidateLicense drops every cached verify result for a license
// key after an admin state change
func (cs *CacheService) InvalidateLicense(ctx context.Context, licenseKey string) error {
	if !cs.IsHealthy() {
		return fmt.Errorf("cache unavailable")
	}

	pattern := fmt.Sprintf(keyVerifyResult, licenseKey, "*")
	iter := cs.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("cache scan failed: %w", err)
	}

	if len(keys) > 0 {
		if err := cs.client.Del(ctx, keys...).Err(); err != nil {
			cs.recordFailure()
			return fmt.Errorf("cache delete failed: %w", err)
		}
	}
	cs.recordSuccess()
	return nil
}

// TouchAgentPresence marks an agent as online
func (cs *CacheService) TouchAgentPresence(ctx context.Context, licenseID string) error {
	if !cs.IsHealthy() {
		return fmt.Errorf("cache unavailable")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := cs.client.Set(ctx, fmt.Sprintf(keyAgentPresence, licenseID), now, PresenceTTL).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("presence set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// AgentOnline reports whether an agent has been seen within the
// presence TTL
func (cs *CacheService) AgentOnline(ctx context.Context, licenseID string) (bool, error) {
	if !cs.IsHealthy() {
		return false, fmt.Errorf("cache unavailable")
	}

	n, err := cs.client.Exists(ctx, fmt.Sprintf(keyAgentPresence, licenseID)).Result()
	if err != nil {
		cs.recordFailure()
		return false, fmt.Errorf("presence check failed: %w", err)
	}
	cs.recordSuccess()
	return n > 0, nil
}

// Close shuts down the Redis connection
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}
