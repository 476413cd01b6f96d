package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key([]byte(`{"k":3}`))
	b := Key([]byte(`{"k":3}`))
	c := Key([]byte(`{"k":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, KeyPrefix))
	assert.Len(t, a, len(KeyPrefix)+64)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v")))
	b, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)
	assert.NoError(t, c.Close())
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis("http://not-redis", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}

func TestRedisCache_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisWithClient(client, time.Minute)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "cache: get")

	assert.Error(t, c.Set(ctx, "k", []byte("v")))
	assert.Error(t, c.Ping(ctx))
}

func TestNewRedis_ParsesURL(t *testing.T) {
	c, err := NewRedis("redis://:secret@localhost:6380/2", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() }) //nolint:errcheck

	opts := c.client.Options()
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}
