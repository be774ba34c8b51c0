package cache

import (
	"context"
	"testing"
	"time"

	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegativeCache(t *testing.T) {
	mr, s, _ := newTestStore(t, clockAt(swrNow))
	ctx := context.Background()

	assert.Nil(t, s.GetNegativeEntry(ctx, testKey))

	s.CacheNegativeResult(ctx, testKey, "validation failed: missing primary", 0)
	assert.True(t, mr.Exists(cachekey.NegativeKey(testKey)))
	assert.Equal(t, 15*time.Minute, mr.TTL(cachekey.NegativeKey(testKey)))
	assert.False(t, mr.Exists(testKey))

	entry := s.GetNegativeEntry(ctx, testKey)
	require.NotNil(t, entry)
	assert.Equal(t, "validation failed: missing primary", entry.Error)
	assert.True(t, entry.Timestamp.Equal(swrNow))

	mr.FastForward(16 * time.Minute)
	assert.Nil(t, s.GetNegativeEntry(ctx, testKey))
}

func TestNegativeCacheTTLOverride(t *testing.T) {
	mr, s, _ := newTestStore(t, WithNegativeTTL(time.Minute))
	ctx := context.Background()

	s.CacheNegativeResult(ctx, testKey, "bad input", 0)
	assert.Equal(t, time.Minute, mr.TTL(cachekey.NegativeKey(testKey)))

	s.CacheNegativeResult(ctx, testKey, "bad input", 5*time.Minute)
	assert.Equal(t, 5*time.Minute, mr.TTL(cachekey.NegativeKey(testKey)))
}

func TestNegativeCacheFailsSoft(t *testing.T) {
	mr, s, _ := newTestStore(t)
	ctx := context.Background()
	mr.SetError("ERR store unavailable")
	s.CacheNegativeResult(ctx, testKey, "bad input", 0)
	assert.Nil(t, s.GetNegativeEntry(ctx, testKey))
	mr.SetError("")
	assert.False(t, mr.Exists(cachekey.NegativeKey(testKey)))
}
