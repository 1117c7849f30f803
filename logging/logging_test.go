package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{App: "wspreset", Level: "warn", Format: "json", Out: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Str("conn", "main").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "wspreset", line["app"])
	assert.Equal(t, "main", line["conn"])
	assert.Equal(t, "shown", line["message"])

	buf.Reset()
	log.Warn().Msg("global")
	assert.Contains(t, buf.String(), "global")
}

func TestConsoleLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{App: "wspreset", Level: "nonsense", Out: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
