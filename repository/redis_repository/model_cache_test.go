package redis_repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/chatplan/internal/catalog"
	"github.com/mohammad-safakhou/chatplan/repository/redis_repository"
)

func startRedis(t *testing.T, ctx context.Context) (host, port string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	mapped, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	host, err = c.Host(ctx)
	require.NoError(t, err)
	return host, mapped.Port()
}

func TestRedisModelCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	host, port := startRedis(t, ctx)

	client, err := redis_repository.Conn(ctx, host, port, "", 0, 5*time.Second, nil)
	require.NoError(t, err)
	defer client.Close()

	cache := redis_repository.NewRedisModelCache(client, time.Minute)
	_, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	body := []byte(`{"models":[{"id":"deepseek-chat","name":"DeepSeek V3","provider":"DeepSeek","providerId":"deepseek","enabled":true,"toolCallType":"native"}]}`)
	require.NoError(t, cache.Set(ctx, body))

	got, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(body), string(got))

	ttl, err := client.TTL(ctx, "chatplan:models").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// the catalog serves from the cache without touching the (unreachable) remote
	cat := catalog.New("http://127.0.0.1:1", catalog.WithCache(cache))
	list := cat.GetModels(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "deepseek-chat", list[0].ID)

	require.NoError(t, cache.Invalidate(ctx))
	_, ok, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
