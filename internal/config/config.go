package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Collector scopes.
const (
	ScopeRun     = "run"
	ScopeProcess = "process"
)

// Shutdown flush policies.
const (
	PolicyDrain     = "drain"
	PolicyImmediate = "immediate"
)

// Config represents the main umile configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Pool      PoolConfig      `json:"pool" mapstructure:"pool"`
	Flow      FlowConfig      `json:"flow" mapstructure:"flow"`
	Messages  MessagesConfig  `json:"messages" mapstructure:"messages"`
	Collector CollectorConfig `json:"collector" mapstructure:"collector"`
	Pipeline  PipelineConfig  `json:"pipeline" mapstructure:"pipeline"`
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
}

// PoolConfig holds worker pool settings
type PoolConfig struct {
	Capacity     int `json:"capacity" mapstructure:"capacity"`
	DrainTimeout int `json:"drain_timeout" mapstructure:"drain_timeout"` // seconds
}

// FlowConfig holds per-task execution settings
type FlowConfig struct {
	Deadline int `json:"deadline" mapstructure:"deadline"` // seconds
}

// MessagesConfig holds every user-facing text. Placeholders: {result},
// {error}, {user}, {output}, {deadline}.
type MessagesConfig struct {
	Success      string `json:"success" mapstructure:"success"`
	Failure      string `json:"failure" mapstructure:"failure"`
	MissingInput string `json:"missing_input" mapstructure:"missing_input"`
	Ack          string `json:"ack" mapstructure:"ack"`
	Unavailable  string `json:"unavailable" mapstructure:"unavailable"`
	Completed    string `json:"completed" mapstructure:"completed"`
	Timeout      string `json:"timeout" mapstructure:"timeout"`
	Critical     string `json:"critical" mapstructure:"critical"`
	Generic      string `json:"generic" mapstructure:"generic"`
	Discarded    string `json:"discarded" mapstructure:"discarded"`
}

// CollectorConfig holds telemetry collection settings
type CollectorConfig struct {
	Dir            string        `json:"dir" mapstructure:"dir"`
	Scope          string        `json:"scope" mapstructure:"scope"`                     // run, process
	ShutdownPolicy string        `json:"shutdown_policy" mapstructure:"shutdown_policy"` // drain, immediate
	FlushSchedule  string        `json:"flush_schedule" mapstructure:"flush_schedule"`   // cron spec, empty disables
	Archive        ArchiveConfig `json:"archive" mapstructure:"archive"`
}

// ArchiveConfig holds the SQLite archive settings
type ArchiveConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// PipelineConfig holds language model settings
type PipelineConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // openai, anthropic, echo
	Model        string  `json:"model" mapstructure:"model"`
	APIKey       string  `json:"api_key" mapstructure:"api_key"`
	BaseURL      string  `json:"base_url" mapstructure:"base_url"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	BotToken       string `json:"bot_token" mapstructure:"bot_token"`
	RequireMention bool   `json:"require_mention" mapstructure:"require_mention"`
	PollTimeout    int    `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	Port              int    `json:"port" mapstructure:"port"`
	Host              string `json:"host" mapstructure:"host"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxInFlight       int    `json:"max_in_flight" mapstructure:"max_in_flight"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultMessages returns the stock user-facing texts.
func DefaultMessages() MessagesConfig {
	return MessagesConfig{
		Success:      "✅ {result}",
		Failure:      "❌ {error}",
		MissingInput: "Please enter a command.",
		Ack:          "{user} working on your request...",
		Unavailable:  "The service is not accepting requests right now. Please try again later.",
		Completed:    "Your request has been completed.",
		Timeout:      "Operation terminated due to timeout. Please try a simpler request.",
		Critical:     "The language model failed to process your request.",
		Generic:      "An error occurred while running the agent.",
		Discarded:    "The service shut down before your request could run.",
	}
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Capacity:     4,
			DrainTimeout: 30,
		},
		Flow: FlowConfig{
			Deadline: 3600,
		},
		Messages: DefaultMessages(),
		Collector: CollectorConfig{
			Scope:          ScopeProcess,
			ShutdownPolicy: PolicyDrain,
			FlushSchedule:  "@every 15m",
		},
		Pipeline: PipelineConfig{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			MaxTokens:  4096,
			MaxRetries: 2,
		},
		Telegram: TelegramConfig{
			RequireMention: true,
			PollTimeout:    60,
		},
		Gateway: GatewayConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			RequestsPerMinute: 60,
			MaxInFlight:       10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Pipeline.APIKey = maskSecret(c.Pipeline.APIKey)
	masked.Telegram.BotToken = maskSecret(c.Telegram.BotToken)
	masked.Gateway.SharedSecret = maskSecret(c.Gateway.SharedSecret)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be at least 1, got %d", c.Pool.Capacity)
	}
	if c.Pool.DrainTimeout < 0 {
		return fmt.Errorf("pool.drain_timeout must be >= 0, got %d", c.Pool.DrainTimeout)
	}
	if c.Flow.Deadline <= 0 {
		return fmt.Errorf("flow.deadline must be positive, got %d", c.Flow.Deadline)
	}

	switch c.Collector.Scope {
	case ScopeRun, ScopeProcess:
	default:
		return fmt.Errorf("invalid collector.scope %q (must be: run, process)", c.Collector.Scope)
	}
	switch c.Collector.ShutdownPolicy {
	case PolicyDrain, PolicyImmediate:
	default:
		return fmt.Errorf("invalid collector.shutdown_policy %q (must be: drain, immediate)", c.Collector.ShutdownPolicy)
	}

	switch c.Pipeline.Provider {
	case "openai", "anthropic":
		if strings.TrimSpace(c.Pipeline.Model) == "" {
			return fmt.Errorf("pipeline.model is required for provider %s", c.Pipeline.Provider)
		}
		if c.Pipeline.APIKey == "" {
			return fmt.Errorf("pipeline.api_key is required for provider %s", c.Pipeline.Provider)
		}
	case "echo":
	default:
		return fmt.Errorf("invalid pipeline.provider %q (must be: openai, anthropic, echo)", c.Pipeline.Provider)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when Telegram channel is enabled")
	}
	// Port 0 binds an ephemeral port.
	if c.Gateway.Enabled && (c.Gateway.Port < 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway.port: %d", c.Gateway.Port)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %f", c.Tracing.SampleRatio)
	}

	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
