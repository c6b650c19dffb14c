package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprintreport/internal/config"
	"sprintreport/internal/logger"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("issue", "A-1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "A-1", line["issue"])
	assert.Equal(t, "shown", line["message"])
}

func TestConsoleLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(config.LogConfig{Format: "console"}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Msg("report generated")
	assert.Contains(t, buf.String(), "report generated")
	assert.NotContains(t, buf.String(), "hidden")
}
