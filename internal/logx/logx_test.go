package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kejdas/chess-game-analyzer/internal/config"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, config.LogConfig{Level: "warn", Format: "json"})

	log.Info().Msg("hidden")
	log.Warn().Str("fen", "8/8/8/8/8/8/8/K6k w - - 0 1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "shown", entry["message"])
	require.Equal(t, "warn", entry["level"])
	require.Contains(t, entry["caller"], "logx_test.go:")
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, config.LogConfig{Level: "loud", Format: "json"})
	log.Debug().Msg("debug")
	log.Info().Msg("info")
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestShortCaller(t *testing.T) {
	got := shortCaller(0, "/src/internal/eval/service.go", 42)
	require.Equal(t, "service.go:42", strings.TrimSpace(got))
	require.Len(t, got, 28)
}
