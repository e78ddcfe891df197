package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json lines with fields", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New(Options{Level: "debug", Format: "json", Output: &buf})
		require.NoError(t, err)

		log.Debug().Str("node", "0000-00000001").Float64("value", 0.5).Msg("evaluated")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		require.Equal(t, "debug", line["level"])
		require.Equal(t, "0000-00000001", line["node"])
		require.Equal(t, 0.5, line["value"])
		require.Equal(t, "evaluated", line["message"])
	})

	t.Run("filters below the level", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New(Options{Level: "WARN", Format: "json", Output: &buf})
		require.NoError(t, err)
		log.Info().Msg("hidden")
		require.Zero(t, buf.Len())
	})

	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New(Options{Output: &buf})
		require.NoError(t, err)
		log.Info().Int("depth", 3).Msg("sampled")
		require.Contains(t, buf.String(), "sampled")
		require.Contains(t, buf.String(), "depth=")
	})

	t.Run("rejects unknown settings", func(t *testing.T) {
		_, err := New(Options{Level: "loud"})
		require.Error(t, err)
		_, err = New(Options{Format: "xml"})
		require.ErrorIs(t, err, ErrInvalidFormat)
	})
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	log, closer, err := OpenFile(path, "info")
	require.NoError(t, err)
	log.Info().Msg("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"to file"`)
}
