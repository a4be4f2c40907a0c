package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSONOutput(t *testing.T) {
	t.Cleanup(func() { _ = Setup(os.Stderr, "info", true) })

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "debug", false))

	logger := Component("gridfs")
	logger.Debug().Str("bucket", "fs").Msg("sweep")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "gridfs", entry["component"])
	assert.Equal(t, "fs", entry["bucket"])
	assert.Equal(t, "sweep", entry["message"])
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	t.Cleanup(func() { _ = Setup(os.Stderr, "info", true) })

	var buf bytes.Buffer
	require.NoError(t, Setup(&buf, "warn", false))

	Info().Msg("hidden")
	assert.Empty(t, buf.String())

	Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetupInvalidLevel(t *testing.T) {
	err := Setup(&bytes.Buffer{}, "loud", false)
	assert.Error(t, err)
}
