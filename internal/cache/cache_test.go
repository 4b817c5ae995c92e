package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Verdict string  `json:"verdict"`
	Score   float64 `json:"score"`
}

func exercise(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	var got payload
	found, err := c.GetJSON(ctx, "phishguard:test:missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	want := payload{Verdict: "PHISHING", Score: 0.925}
	require.NoError(t, c.SetJSON(ctx, "phishguard:test:k", want, time.Minute))
	found, err = c.GetJSON(ctx, "phishguard:test:k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, "phishguard:test:k"))
	found, err = c.GetJSON(ctx, "phishguard:test:k", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.Ping(ctx))
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory(0))
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(0)
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetJSON(ctx, "k", payload{Verdict: "SAFE"}, time.Minute))
	now = now.Add(2 * time.Minute)
	var got payload
	found, err := m.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryCapacity(t *testing.T) {
	m := NewMemory(2)
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetJSON(ctx, "a", 1, time.Minute))
	require.NoError(t, m.SetJSON(ctx, "b", 2, time.Hour))
	require.NoError(t, m.SetJSON(ctx, "c", 3, time.Hour))
	assert.Equal(t, 2, m.Len())

	var v int
	found, _ := m.GetJSON(ctx, "c", &v)
	assert.False(t, found)

	// Once "a" expires there is room again.
	now = now.Add(2 * time.Minute)
	require.NoError(t, m.SetJSON(ctx, "c", 3, time.Hour))
	found, _ = m.GetJSON(ctx, "c", &v)
	assert.True(t, found)
	assert.Equal(t, 3, v)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	c, err := DialRedis(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()
	exercise(t, c)
}

func TestDialRedisBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
