package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	t.Run("json debug", func(t *testing.T) {
		require.NoError(t, Init(&Config{Level: "debug", Format: "json", ServiceName: "collector"}))
		assert.Equal(t, zapcore.DebugLevel, Level())
		assert.NotNil(t, L())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		require.NoError(t, Init(&Config{Level: "verbose", Format: "console"}))
		assert.Equal(t, zapcore.InfoLevel, Level())
	})
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "info"}))

	SetLevel("warn")
	assert.Equal(t, zapcore.WarnLevel, Level())

	// 非法值不改变级别
	SetLevel("nope")
	assert.Equal(t, zapcore.WarnLevel, Level())
}

func TestContextLogger(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "info"}))

	assert.Equal(t, L(), WithContext(context.Background()))

	ctx := NewContext(context.Background(), zap.String("kind", "receipt"))
	assert.NotEqual(t, L(), WithContext(ctx))
}
