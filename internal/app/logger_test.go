package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONCarriesServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", AppEnv: "production", LogLevel: "info"}, &buf)
	logger.Info("invoice generated", "number", "A-0001-00000001")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "pampa", rec["service"])
	require.Equal(t, "production", rec["env"])
	require.Equal(t, "A-0001-00000001", rec["number"])
	require.Contains(t, rec, "source")
}

func TestLoggerLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "pretty", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Debug("hidden too")
	require.Zero(t, buf.Len())

	logger.Warn("shown")
	out := buf.String()
	require.True(t, strings.Contains(out, "msg=shown"), out)
	require.Contains(t, out, "env=development")

	buf.Reset()
	debug := newLogger(&Config{LogLevel: "DEBUG"}, &buf)
	debug.Debug("visible")
	require.Contains(t, buf.String(), "msg=visible")
}
