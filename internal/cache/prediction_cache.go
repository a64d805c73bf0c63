package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// CachedPrediction is the value stored per cache key
type CachedPrediction struct {
	Numbers          []int     `json:"numbers"`
	SpecialNumbers   []int     `json:"special_numbers,omitempty"`
	ConfidenceScores []float64 `json:"confidence_scores"`
	Algorithm        string    `json:"algorithm"`
	GeneratedAt      time.Time `json:"generated_at"`
}

type cacheEntry struct {
	value      *CachedPrediction
	expiresAt  time.Time
	lastAccess time.Time
	priority   int
}

// PredictionCache is a two-level prediction cache. The first level is an
// in-process TTL map with capacity-bounded eviction; the second level is
// an optional shared redis instance. Concurrent misses on the same key
// collapse into one computation.
type PredictionCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	capacity int
	ttl      time.Duration

	group  singleflight.Group
	client *redis.Client
	logger *logrus.Entry
}

// NewPredictionCache creates a cache with the given capacity and default
// TTL. The redis client may be nil; the cache then runs in-process only.
func NewPredictionCache(capacity int, ttl time.Duration, client *redis.Client) *PredictionCache {
	if capacity < 1 {
		capacity = 1
	}
	return &PredictionCache{
		entries:  make(map[string]*cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		client:   client,
		logger:   logger.WithComponent("prediction_cache"),
	}
}

// Key builds the cache key for one prediction request. The historical
// window and parameters are part of the key so differently tuned
// requests never collide.
func Key(lotteryType types.LotteryType, algorithm types.AlgorithmType, targetDate time.Time, windowDays int, params json.RawMessage) string {
	return fmt.Sprintf("prediction:%s:%s:%s:%d:%s",
		lotteryType, algorithm, targetDate.Format("2006-01-02"), windowDays, string(params))
}

// GetOrCompute returns the cached prediction for key, computing it at
// most once across concurrent callers on a miss
func (c *PredictionCache) GetOrCompute(ctx context.Context, key string, priority int, compute func(ctx context.Context) (*CachedPrediction, error)) (*CachedPrediction, bool, error) {
	if cached := c.getLocal(key); cached != nil {
		return cached, true, nil
	}
	if cached := c.getRemote(ctx, key); cached != nil {
		c.putLocal(key, cached, priority)
		return cached, true, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have filled the key while we queued
		if cached := c.getLocal(key); cached != nil {
			return cached, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.putLocal(key, value, priority)
		c.putRemote(ctx, key, value)
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*CachedPrediction), shared, nil
}

// Invalidate drops a key from both levels
func (c *PredictionCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to invalidate redis entry")
		}
	}
}

// Len reports the live local entry count
func (c *PredictionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	n := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (c *PredictionCache) getLocal(key string) *CachedPrediction {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	entry.lastAccess = time.Now()
	return entry.value
}

func (c *PredictionCache) putLocal(key string, value *CachedPrediction, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[key] = &cacheEntry{
		value:      value,
		expiresAt:  time.Now().Add(c.ttl),
		lastAccess: time.Now(),
		priority:   priority,
	}
}

// evictLocked removes one entry: expired first, then lowest priority,
// ties broken by least recent access
func (c *PredictionCache) evictLocked() {
	now := time.Now()
	var victim string
	var victimEntry *cacheEntry
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			return
		}
		if victimEntry == nil ||
			entry.priority < victimEntry.priority ||
			(entry.priority == victimEntry.priority && entry.lastAccess.Before(victimEntry.lastAccess)) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		delete(c.entries, victim)
	}
}

func (c *PredictionCache) getRemote(ctx context.Context, key string) *CachedPrediction {
	if c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("key", key).Warn("Redis read failed")
		}
		return nil
	}

	var value CachedPrediction
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to unmarshal cached prediction")
		return nil
	}
	return &value
}

func (c *PredictionCache) putRemote(ctx context.Context, key string, value *CachedPrediction) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to marshal prediction for redis")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Redis write failed")
	}
}
