package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestInitJSONWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Init(Options{Level: "debug", Format: "json", Component: "test", Writer: &buf})
	log.Info().Str("municipality", "Torrington").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "test", line["component"])
	assert.Equal(t, "Torrington", line["municipality"])
	assert.Equal(t, "hello", line["message"])

	child := Named("geocode")
	buf.Reset()
	child.Debug().Msg("child")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "geocode", line["component"])
}
