package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := build(&bytes.Buffer{}, tt.level, "json")
			require.NoError(t, err)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestBuild_BadLevel(t *testing.T) {
	_, err := build(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)
}

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(&buf, "info", "json")
	require.NoError(t, err)
	log.Info().Str("file", "co1828.csv").Msg("ingested")
	log.Debug().Msg("hidden")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ingested", got["message"])
	assert.Equal(t, "co1828.csv", got["file"])
	assert.Contains(t, got, "time")
}

func TestBuild_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(&buf, "info", "console")
	require.NoError(t, err)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), NewWithWriter(&buf))
	l := FromContext(ctx)
	l.Info().Msg("test")
	assert.Contains(t, buf.String(), "test")
}

func TestFromContext_Default(t *testing.T) {
	log := FromContext(context.Background())
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := WithFields(NewWithWriter(&buf), map[string]interface{}{"run_id": "r1", "count": 3})
	log.Info().Msg("x")
	assert.Contains(t, buf.String(), `"run_id":"r1"`)
	assert.Contains(t, buf.String(), `"count":3`)
}
