package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, parseZerologLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, parseZerologLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseZerologLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseZerologLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseZerologLevel("bogus"))
}

func TestNewZerolog_WritesAllOutputs(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewZerolog("info", nil, &a, &b)

	logger.Info().Str("table", "client_settings").Msg("Migrated")
	logger.Debug().Msg("hidden")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		assert.Contains(t, buf.String(), "Migrated")
		assert.Contains(t, buf.String(), "table=client_settings")
		assert.NotContains(t, buf.String(), "hidden")
	}
}

func TestNewZerolog_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	provider := func() []slog.Attr {
		return []slog.Attr{slog.String("nation", "Egypt"), slog.Int("bases", 4)}
	}
	logger := NewZerolog("debug", provider, &buf)

	logger.Info().Msg("Connected")
	assert.Contains(t, buf.String(), "nation=Egypt")
	assert.Contains(t, buf.String(), "bases=4")
}

func TestNewZerolog_NoWriters(t *testing.T) {
	logger := NewZerolog("info", nil, nil)
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}
