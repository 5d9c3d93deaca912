package vmlog

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildLoggerForSource(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	logger := ChildLoggerForSource(New(buf, DebugLevel), "/vm")

	logger.Info().Int("pc", 3).Msg("failure")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "/vm", event["src"])
	assert.Equal(t, "failure", event["msg"])
	assert.Equal(t, "info", event["lvl"])
	assert.EqualValues(t, 3, event["pc"])
	assert.Contains(t, event, "tm")
}

func TestChildLoggerForInternalSource(t *testing.T) {
	t.Run("internal debug logs disabled", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		logger := ChildLoggerForInternalSource(New(buf, DebugLevel), "/vm", NewLevels(DebugLevel, nil, false))

		logger.Debug().Msg("suspended")
		assert.Empty(t, buf.String())

		logger.Info().Msg("canceled")
		assert.Contains(t, buf.String(), "canceled")
	})

	t.Run("internal debug logs enabled", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		logger := ChildLoggerForInternalSource(New(buf, DebugLevel), "/vm", NewLevels(DebugLevel, nil, true))

		logger.Debug().Msg("suspended")
		assert.Contains(t, buf.String(), "suspended")
	})
}

func TestLevels(t *testing.T) {
	levels := NewLevels(WarnLevel, map[string]zerolog.Level{"/regalloc": DebugLevel}, false)

	assert.Equal(t, DebugLevel, levels.LevelFor("/regalloc"))
	assert.Equal(t, WarnLevel, levels.LevelFor("/vm"))

	var nilLevels *Levels
	assert.False(t, nilLevels.AreInternalDebugLogsEnabled())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, level)

	level, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
