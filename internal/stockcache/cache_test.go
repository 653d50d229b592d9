package stockcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

func setupTestRedis(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, 5*time.Minute), mr
}

func TestPutAndGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	results := []contract.StockResult{{ProductID: "P1", Valid: true, AvailableQuantity: 4}}
	require.NoError(t, cache.Put(ctx, "v-1", results))
	assert.True(t, mr.Exists("stock_validation:v-1"))

	got, err := cache.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, results, got.Results)
	assert.False(t, got.ValidatedAt.IsZero())

	ok, err := cache.Exists(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "v-2", nil))

	mr.FastForward(5*time.Minute + time.Second)

	ok, err := cache.Exists(ctx, "v-2")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = cache.Get(ctx, "v-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisDown(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	_, err := cache.Exists(context.Background(), "v-3")
	assert.Error(t, err)
}
