package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. UMILE_POOL_CAPACITY.
const EnvPrefix = "UMILE"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file over the defaults and applies environment
// overrides. A missing file yields the defaults plus overrides.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyPaths(cfg); err != nil {
		return nil, err
	}
	applyProviderKey(cfg)

	return cfg, nil
}

// Save writes cfg as JSON to the config path.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".umile", "umile.json"), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// setDefaults registers every leaf of defaults with viper.
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}

	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for key, value := range node {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			if child, ok := value.(map[string]interface{}); ok {
				walk(full, child)
				continue
			}
			v.SetDefault(full, value)
		}
	}
	walk("", tree)
	return nil
}

func applyPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".umile")
	} else {
		cfg.DataDir = expandHome(cfg.DataDir)
	}

	if cfg.Collector.Dir == "" {
		cfg.Collector.Dir = filepath.Join(cfg.DataDir, "collections")
	} else {
		cfg.Collector.Dir = expandHome(cfg.Collector.Dir)
	}
	if cfg.Collector.Archive.Path == "" {
		cfg.Collector.Archive.Path = filepath.Join(cfg.DataDir, "archive.db")
	} else {
		cfg.Collector.Archive.Path = expandHome(cfg.Collector.Archive.Path)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = expandHome(cfg.Logging.File)
	}
	return nil
}

// applyProviderKey falls back to the provider's conventional variable.
func applyProviderKey(cfg *Config) {
	if cfg.Pipeline.APIKey != "" {
		return
	}
	switch cfg.Pipeline.Provider {
	case "openai":
		cfg.Pipeline.APIKey = os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		cfg.Pipeline.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
