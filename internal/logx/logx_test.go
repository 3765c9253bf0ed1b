package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestInit_JSON(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	Init(&buf, "debug", "json")

	log.Debug().Str("action", "agent_list").Msg("hello")

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "debug", ev["level"])
	assert.Equal(t, "agent_list", ev["action"])
	assert.Equal(t, "hello", ev["message"])
	ts, ok := ev["time"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(ts, "Z"), "timestamps are UTC")
}

func TestInit_LevelFilters(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	Init(&buf, "warn", "json")

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestInit_Console(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer
	Init(&buf, "info", "console")

	log.Info().Msg("readable")
	assert.Contains(t, buf.String(), "readable")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, parseLevel("TRACE"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}

func TestInitFromEnv(t *testing.T) {
	restoreGlobals(t)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "")
	InitFromEnv()
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
