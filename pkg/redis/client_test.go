package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = &Config{Addresses: []string{"a:1", "b:2"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeCluster, cfg.Mode)
	assert.Equal(t, 20, cfg.PoolSize)

	cfg = &Config{Addresses: []string{"a:1"}, Mode: "sentinel"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{Addresses: []string{mr.Addr()}})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(&Config{Addresses: []string{addr}})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(redis.Nil))
	assert.False(t, IsNilError(errors.New("other")))
}
