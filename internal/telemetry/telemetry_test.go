package telemetry

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/config"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "not-a-level", Format: "json"}, "backend")
	require.Error(t, err)
}

func TestNew_BuildsLoggerWithServiceField(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"}, "backend")
	os.Stdout = stdout
	require.NoError(t, err)

	child := Component(logger, "aggregator")
	require.NotNil(t, child)

	child.Info().Msg("hello")
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Contains(t, string(out), `"service":"backend"`)
}
