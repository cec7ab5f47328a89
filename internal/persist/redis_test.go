package persist

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackendIntegration(t *testing.T) {
	addr := os.Getenv("KOTOSHOP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KOTOSHOP_TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	r, err := NewRedis(context.Background(), RedisOptions{Addr: addr, DB: 15})
	require.NoError(t, err)
	defer r.Close()

	exerciseBackend(t, r)
}

func TestRedisBackendUnreachable(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{Addr: "127.0.0.1:1"})
	assert.True(t, IsConnection(err))
}
