package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/harun/umile/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePID(t *testing.T, dataDir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "umile.pid"), []byte(strconv.Itoa(os.Getpid())), 0644))
}

func TestConfigureCommand(t *testing.T) {
	t.Run("writes defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "umile.json")

		out, _, err := execute(t, "", "configure", "--config", path, "--provider", "anthropic")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Pipeline.Provider)
		assert.Equal(t, "claude-3-5-haiku-latest", cfg.Pipeline.Model)
		assert.Equal(t, 4, cfg.Pool.Capacity)
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "umile.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

		_, _, err := execute(t, "", "configure", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		_, _, err = execute(t, "", "configure", "--config", path, "--provider", "echo", "--force")
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "echo", cfg.Pipeline.Provider)
	})

	t.Run("unknown provider", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "umile.json")
		_, _, err := execute(t, "", "configure", "--config", path, "--provider", "llama")
		assert.Error(t, err)
	})
}
