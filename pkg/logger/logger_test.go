package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/pkg/config"
)

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "disabled", ""} {
		_, err := parseLogLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := parseLogLevel("chatty")
	assert.Error(t, err)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWithFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mediagrab.log")
	l, err := New(&config.LoggingConfig{Level: "info", File: path})
	require.NoError(t, err)
	l.Info("hello")
	assert.FileExists(t, path)
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	Component(l, "aggregator").
		WithError(errors.New("boom")).
		InfoWithFields("Flush completed", map[string]interface{}{
			"target":   "https://example.com",
			"added":    3,
			"duration": 20 * time.Millisecond,
		})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "aggregator", entry["component"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "https://example.com", entry["target"])
	assert.EqualValues(t, 3, entry["added"])
	assert.Equal(t, "Flush completed", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "warn")
	require.NoError(t, err)

	l.Info("ignored")
	assert.Zero(t, buf.Len())
	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestTestLoggerCapturesFields(t *testing.T) {
	tl := NewTestLogger()
	scoped := tl.WithField("component", "scroll").WithError(errors.New("x"))
	scoped.WarnWithFields("Extractor failed", map[string]interface{}{"target": "t1"})
	tl.Error("bad")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "scroll", msgs[0].Fields["component"])
	assert.Equal(t, "t1", msgs[0].Fields["target"])
	assert.EqualError(t, msgs[0].Error, "x")
	assert.True(t, tl.HasMessage("Extractor failed"))
	assert.True(t, tl.HasError())
	assert.Contains(t, tl.String(), "[WARN] Extractor failed")

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}
