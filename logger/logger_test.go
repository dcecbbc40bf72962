package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("json lines are written to the configured file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vcr.log")

		lg, err := New(&Config{Level: "info", Filename: path, MaxSize: 1})
		require.NoError(t, err)

		lg.Info("turn finished", zap.String("outcome", "executed"))
		_ = lg.Sync()

		out, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"outcome":"executed"`)
	})

	t.Run("debug overrides the configured level", func(t *testing.T) {
		lg, err := New(&Config{Level: "error", Debug: true})
		require.NoError(t, err)
		assert.True(t, lg.Core().Enabled(zap.DebugLevel))
	})

	t.Run("an unknown level is rejected", func(t *testing.T) {
		_, err := New(&Config{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("nil config is rejected", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})
}
