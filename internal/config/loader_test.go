package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Pool.Capacity)
		assert.Equal(t, DefaultMessages(), cfg.Messages)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + tmpDir + `",
			"pool": {"capacity": 8},
			"messages": {"success": "done: {result}"},
			"collector": {"scope": "run", "shutdown_policy": "immediate"},
			"pipeline": {"provider": "anthropic", "model": "claude-3-5-haiku-latest", "api_key": "sk-ant-abc"},
			"telegram": {"enabled": true, "bot_token": "123:abc", "require_mention": false}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Pool.Capacity)
		assert.Equal(t, 30, cfg.Pool.DrainTimeout, "unset keys keep defaults")
		assert.Equal(t, "done: {result}", cfg.Messages.Success)
		assert.Equal(t, DefaultMessages().Failure, cfg.Messages.Failure)
		assert.Equal(t, ScopeRun, cfg.Collector.Scope)
		assert.Equal(t, PolicyImmediate, cfg.Collector.ShutdownPolicy)
		assert.Equal(t, "anthropic", cfg.Pipeline.Provider)
		assert.Equal(t, "sk-ant-abc", cfg.Pipeline.APIKey)
		assert.True(t, cfg.Telegram.Enabled)
		assert.False(t, cfg.Telegram.RequireMention)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`"}`), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "collections"), cfg.Collector.Dir)
		assert.Equal(t, filepath.Join(tmpDir, "archive.db"), cfg.Collector.Archive.Path)
	})

	t.Run("environment overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"pool": {"capacity": 2}}`), 0644))

		t.Setenv("UMILE_POOL_CAPACITY", "6")
		t.Setenv("UMILE_GATEWAY_ENABLED", "true")
		t.Setenv("UMILE_MESSAGES_MISSING_INPUT", "say something")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 6, cfg.Pool.Capacity)
		assert.True(t, cfg.Gateway.Enabled)
		assert.Equal(t, "say something", cfg.Messages.MissingInput)
	})

	t.Run("provider key fallback", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"pipeline": {"provider": "openai"}}`), 0644))

		t.Setenv("OPENAI_API_KEY", "sk-from-env")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.Pipeline.APIKey)
	})

	t.Run("invalid json", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"pool": `), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "umile.json")
	loader := NewLoader(configPath)

	cfg := validConfig()
	cfg.DataDir = tmpDir
	cfg.Pool.Capacity = 9
	cfg.Messages.Ack = ""
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Pool.Capacity)
	assert.Equal(t, "", loaded.Messages.Ack, "empty ack survives a round trip")
}
