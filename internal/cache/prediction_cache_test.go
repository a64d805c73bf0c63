package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

func testPrediction(n int) *CachedPrediction {
	return &CachedPrediction{
		Numbers:          []int{n, n + 1, n + 2},
		ConfidenceScores: []float64{0.9, 0.8, 0.7},
		Algorithm:        "statistical",
		GeneratedAt:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := NewPredictionCache(10, time.Minute, nil)
	calls := 0
	compute := func(ctx context.Context) (*CachedPrediction, error) {
		calls++
		return testPrediction(1), nil
	}

	first, hit, err := c.GetOrCompute(context.Background(), "k1", 0, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int{1, 2, 3}, first.Numbers)

	second, hit, err := c.GetOrCompute(context.Background(), "k1", 0, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c := NewPredictionCache(10, time.Minute, nil)

	var calls int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (*CachedPrediction, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return testPrediction(5), nil
	}

	const goroutines = 16
	var wg sync.WaitGroup
	results := make([]*CachedPrediction, goroutines)
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(context.Background(), "shared", 0, compute)
		}(i)
	}

	// Let every goroutine reach the singleflight barrier before the
	// one live computation completes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []int{5, 6, 7}, results[i].Numbers)
	}
}

func TestGetOrComputePropagatesError(t *testing.T) {
	c := NewPredictionCache(10, time.Minute, nil)
	computeErr := errors.New("model unavailable")

	_, _, err := c.GetOrCompute(context.Background(), "bad", 0, func(ctx context.Context) (*CachedPrediction, error) {
		return nil, computeErr
	})
	require.ErrorIs(t, err, computeErr)

	// Failures are not cached; a later call computes again
	value, hit, err := c.GetOrCompute(context.Background(), "bad", 0, func(ctx context.Context) (*CachedPrediction, error) {
		return testPrediction(9), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int{9, 10, 11}, value.Numbers)
}

func TestEntriesExpire(t *testing.T) {
	c := NewPredictionCache(10, 20*time.Millisecond, nil)
	calls := 0
	compute := func(ctx context.Context) (*CachedPrediction, error) {
		calls++
		return testPrediction(calls), nil
	}

	_, _, err := c.GetOrCompute(context.Background(), "ttl", 0, compute)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, hit, err := c.GetOrCompute(context.Background(), "ttl", 0, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestEvictionPrefersLowPriority(t *testing.T) {
	c := NewPredictionCache(2, time.Minute, nil)
	fill := func(key string, priority int) {
		_, _, err := c.GetOrCompute(context.Background(), key, priority, func(ctx context.Context) (*CachedPrediction, error) {
			return testPrediction(1), nil
		})
		require.NoError(t, err)
	}

	fill("high", 5)
	fill("low", 1)
	fill("new", 3)

	// "low" is evicted; "high" survives
	_, hit, err := c.GetOrCompute(context.Background(), "high", 5, func(ctx context.Context) (*CachedPrediction, error) {
		t.Fatal("high priority entry should still be cached")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)

	recomputed := false
	_, hit, err = c.GetOrCompute(context.Background(), "low", 1, func(ctx context.Context) (*CachedPrediction, error) {
		recomputed = true
		return testPrediction(2), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, recomputed)
}

func TestEvictionTieBreaksOnLastAccess(t *testing.T) {
	c := NewPredictionCache(2, time.Minute, nil)
	fill := func(key string) {
		_, _, err := c.GetOrCompute(context.Background(), key, 1, func(ctx context.Context) (*CachedPrediction, error) {
			return testPrediction(1), nil
		})
		require.NoError(t, err)
	}

	fill("old")
	time.Sleep(5 * time.Millisecond)
	fill("fresh")
	time.Sleep(5 * time.Millisecond)
	fill("old") // touch refreshes last access
	fill("next")

	assert.Equal(t, 2, c.Len())
	_, hit, err := c.GetOrCompute(context.Background(), "old", 1, func(ctx context.Context) (*CachedPrediction, error) {
		t.Fatal("recently touched entry should still be cached")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestInvalidateDropsEntry(t *testing.T) {
	c := NewPredictionCache(10, time.Minute, nil)
	calls := 0
	compute := func(ctx context.Context) (*CachedPrediction, error) {
		calls++
		return testPrediction(calls), nil
	}

	_, _, err := c.GetOrCompute(context.Background(), "inv", 0, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	c.Invalidate(context.Background(), "inv")
	assert.Equal(t, 0, c.Len())

	_, hit, err := c.GetOrCompute(context.Background(), "inv", 0, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestKeyIncludesParameters(t *testing.T) {
	target := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a := Key(types.LotterySSQ, types.AlgorithmStatistical, target, 365, json.RawMessage(`{"hot_cold_weight":0.5}`))
	b := Key(types.LotterySSQ, types.AlgorithmStatistical, target, 365, json.RawMessage(`{"hot_cold_weight":0.9}`))

	assert.NotEqual(t, a, b)
	assert.Equal(t, fmt.Sprintf("prediction:%s:%s:2025-07-01:365:{\"hot_cold_weight\":0.5}",
		types.LotterySSQ, types.AlgorithmStatistical), a)
}

func TestKeySeparatesHistoricalWindows(t *testing.T) {
	// Requests over different windows compute over different histories
	// and must never share a cache entry
	target := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	params := json.RawMessage(`{"decay":0.9}`)

	short := Key(types.LotterySSQ, types.AlgorithmStatistical, target, 30, params)
	long := Key(types.LotterySSQ, types.AlgorithmStatistical, target, 365, params)

	assert.NotEqual(t, short, long)
}
