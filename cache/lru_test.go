package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSet(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Minute))
	defer c.Close()

	val, found := c.Get("missing")
	assert.False(t, found)
	assert.Nil(t, val)

	c.Set("key", "value", time.Minute)
	val, found = c.Get("key")
	assert.True(t, found)
	assert.Equal(t, "value", val)
}

func TestTTLExpiry(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("key", "value", 50*time.Millisecond)
	_, found := c.Get("key")
	assert.True(t, found)

	time.Sleep(60 * time.Millisecond)
	val, found := c.Get("key")
	assert.False(t, found)
	assert.Nil(t, val)

	// expired read counts as a miss, and the entry is gone
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU(context.Background(), WithMaxSize(2), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	// touching a makes b the eviction candidate
	_, found := c.Get("a")
	assert.True(t, found)

	c.Set("c", 3, time.Minute)

	_, found = c.Get("b")
	assert.False(t, found)
	_, found = c.Get("a")
	assert.True(t, found)
	_, found = c.Get("c")
	assert.True(t, found)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := NewLRU(context.Background(), WithMaxSize(2), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("a", 10, time.Minute)

	assert.Equal(t, int64(0), c.Stats().Evictions)
	val, found := c.Get("a")
	assert.True(t, found)
	assert.Equal(t, 10, val)
	_, found = c.Get("b")
	assert.True(t, found)
}

func TestHitRate(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("key", "value", time.Minute)
	for i := 0; i < 3; i++ {
		_, found := c.Get("key")
		assert.True(t, found)
	}
	_, found := c.Get("absent")
	assert.False(t, found)

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 75.00, stats.HitRatePercent)
}

func TestHitRateNoAccesses(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Minute))
	defer c.Close()
	assert.Equal(t, 0.0, c.Stats().HitRatePercent)
}

func TestInvalidate(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("key", "value", time.Minute)
	c.Invalidate("key")
	c.Invalidate("never-existed")

	_, found := c.Get("key")
	assert.False(t, found)

	// invalidate itself leaves counters alone
	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestClearResetsCounters(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("key", "value", time.Minute)
	c.Get("key")
	c.Get("absent")
	c.Clear()

	stats := c.Stats()
	assert.Equal(t, Stats{}, stats)
	_, found := c.Get("key")
	assert.False(t, found)
}

func TestBackgroundSweep(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(50*time.Millisecond))
	defer c.Close()

	c.Set("key", "value", 20*time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	// swept without a Get, so no miss is recorded
	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestDefaultTTL(t *testing.T) {
	c := NewLRU(context.Background(), WithExpires(30*time.Millisecond), WithExpiryCheck(time.Minute))
	defer c.Close()

	c.Set("key", "value", 0)
	_, found := c.Get("key")
	assert.True(t, found)
	time.Sleep(40 * time.Millisecond)
	_, found = c.Get("key")
	assert.False(t, found)
}

func TestCloseIdempotent(t *testing.T) {
	c := NewLRU(context.Background(), WithExpiryCheck(time.Second))
	c.Close()
	c.Close()
}
