package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestMemoizeMiss(t *testing.T) {
	ctx := context.Background()
	m := NewMemoizer(NewLRU(ctx, WithExpiryCheck(time.Minute)))
	defer m.Cache().Close()

	invoked := false
	val, cached, err := Memoize(ctx, m, MemoConfig{Name: "op", Args: []any{"alice"}}, func(ctx context.Context) (string, error) {
		invoked = true
		return "fresh", nil
	})
	assert.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "fresh", val)
	assert.True(t, invoked)
}

func TestMemoizeHit(t *testing.T) {
	ctx := context.Background()
	m := NewMemoizer(NewLRU(ctx, WithExpiryCheck(time.Minute)))
	defer m.Cache().Close()

	cfg := MemoConfig{Name: "op", Args: []any{"alice"}, Expires: time.Minute}
	_, _, err := Memoize(ctx, m, cfg, func(ctx context.Context) (string, error) {
		return "first", nil
	})
	assert.NoError(t, err)

	val, cached, err := Memoize(ctx, m, cfg, func(ctx context.Context) (string, error) {
		t.Fatal("should not be invoked on a hit")
		return "", nil
	})
	assert.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "first", val)
}

func TestMemoizeFailureNotCached(t *testing.T) {
	ctx := context.Background()
	m := NewMemoizer(NewLRU(ctx, WithExpiryCheck(time.Minute)))
	defer m.Cache().Close()

	boom := errors.New("upstream down")
	cfg := MemoConfig{Name: "op"}
	_, _, err := Memoize(ctx, m, cfg, func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	// next call invokes again since nothing was stored
	val, cached, err := Memoize(ctx, m, cfg, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	assert.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "recovered", val)
}

func TestMemoizeSingleflight(t *testing.T) {
	ctx := context.Background()
	m := NewMemoizer(NewLRU(ctx, WithExpiryCheck(time.Minute)))
	defer m.Cache().Close()

	var invocations int32
	release := make(chan struct{})
	cfg := MemoConfig{Name: "slow-op", Expires: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, _, err := Memoize(ctx, m, cfg, func(ctx context.Context) (string, error) {
				atomic.AddInt32(&invocations, 1)
				<-release
				return "shared", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "shared", val)
		}()
	}

	// give every goroutine a chance to join the flight before releasing
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
}
