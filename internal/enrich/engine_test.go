package enrich

import (
	"context"
	"io"
	"testing"

	"github.com/noot-app/foods-cleanup/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine("/nonexistent/path.parquet", config.NewTestLogger(io.Discard, "debug"))
	require.NoError(t, err)
	assert.NotNil(t, engine)
	defer engine.Close()
}

func TestEngine_TestConnection_WithInvalidFile(t *testing.T) {
	engine, err := NewEngine("/nonexistent/file.parquet", config.NewTestLogger(io.Discard, "debug"))
	require.NoError(t, err)
	defer engine.Close()

	err = engine.TestConnection(context.Background())
	assert.Error(t, err, "Should fail with nonexistent file")
}

func TestEngine_ByBarcode_WithInvalidFile(t *testing.T) {
	engine, err := NewEngine("/nonexistent/file.parquet", config.NewTestLogger(io.Discard, "debug"))
	require.NoError(t, err)
	defer engine.Close()

	p, err := engine.ByBarcode(context.Background(), "3017620422003")
	assert.Error(t, err)
	assert.Nil(t, p)
}
