package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	log, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, log.Logger)

	broken := []func(*Config){
		func(c *Config) { c.Level = "verbose" },
		func(c *Config) { c.Format = "yaml" },
		func(c *Config) { c.Output = "syslog" },
	}
	for i, mutate := range broken {
		cfg := DefaultConfig()
		mutate(cfg)
		_, err := New(cfg)
		assert.Error(t, err, "case %d", i)
	}
}

func TestNewNilConfigFallsBackToDefault(t *testing.T) {
	log, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Level, log.Config().Level)
}

func TestWithAndNamedPreserveConfig(t *testing.T) {
	log, err := Development()
	require.NoError(t, err)

	child := log.Named("reclaimer")
	assert.Equal(t, log.Config(), child.Config())
}

func TestContextCarriesRequestMetadata(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithTraceID(ctx, "trace-456")
	ctx = WithUserID(ctx, "alice")

	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Equal(t, "trace-456", GetTraceID(ctx))
	assert.Equal(t, "alice", GetUserID(ctx))

	log, err := Development()
	require.NoError(t, err)
	assert.NotNil(t, log.WithContext(ctx))
}

func TestNewWithOptions(t *testing.T) {
	log, err := NewWithOptions(WithLevel("error"), WithFormat("json"), WithOutput("console"))
	require.NoError(t, err)
	assert.Equal(t, "error", log.Config().Level)
	assert.Equal(t, "json", log.Config().Format)
}
