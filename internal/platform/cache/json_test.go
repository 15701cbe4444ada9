package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type plate struct {
	ID    int64  `json:"id"`
	Plate string `json:"plate"`
}

func newTestCache(t *testing.T) (*JSONCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJSONCache(client, "vehicles", time.Minute), mr
}

func TestFetchJSONLoadsOnce(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "10")
	require.NoError(t, err)
	require.Equal(t, "vehicles:10:1", key)

	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return plate{ID: 10, Plate: "ABC123"}, nil
	}
	for i := 0; i < 2; i++ {
		var got plate
		require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
		require.Equal(t, "ABC123", got.Plate)
	}
	require.Equal(t, 1, loads)
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Minute, mr.TTL(key))
}

func TestVersionIncrementChangesKeys(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	before, err := c.BuildKey(ctx, "10")
	require.NoError(t, err)
	_, err = mr.Incr("vehicles:version", 1)
	require.NoError(t, err)
	after, err := c.BuildKey(ctx, "10")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	err := c.FetchJSON(ctx, "vehicles:99:1", &plate{}, func(context.Context) (any, error) {
		return nil, errors.New("not found")
	})
	require.EqualError(t, err, "not found")
	require.False(t, mr.Exists("vehicles:99:1"))
}

func TestNilCacheCallsLoader(t *testing.T) {
	var c *JSONCache
	var got plate
	err := c.FetchJSON(context.Background(), "ignored", &got, func(context.Context) (any, error) {
		return plate{ID: 1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), got.ID)
}
