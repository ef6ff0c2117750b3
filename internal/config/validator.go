package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if provider == "echo" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule checks a cron spec. Descriptors such as "@every 15m"
// are accepted; an empty spec disables the schedule.
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateTemplate checks that tmpl is non-empty and mentions every
// placeholder in required.
func (v *Validator) ValidateTemplate(name, tmpl string, required ...string) error {
	if strings.TrimSpace(tmpl) == "" {
		return fmt.Errorf("messages.%s cannot be empty", name)
	}
	for _, placeholder := range required {
		if !strings.Contains(tmpl, placeholder) {
			return fmt.Errorf("messages.%s must contain %s", name, placeholder)
		}
	}
	return nil
}

// ValidateMessages validates the user-facing texts. Ack may be empty,
// which disables the acknowledgement.
func (v *Validator) ValidateMessages(m MessagesConfig) []error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(v.ValidateTemplate("success", m.Success, "{result}"))
	check(v.ValidateTemplate("failure", m.Failure, "{error}"))
	check(v.ValidateTemplate("missing_input", m.MissingInput))
	check(v.ValidateTemplate("timeout", m.Timeout))
	check(v.ValidateTemplate("critical", m.Critical))
	check(v.ValidateTemplate("generic", m.Generic))
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateAPIKey(cfg.Pipeline.APIKey, cfg.Pipeline.Provider); err != nil {
		errors = append(errors, fmt.Errorf("pipeline: %w", err))
	}
	if cfg.Pipeline.MaxTokens < 0 || cfg.Pipeline.MaxTokens > 200000 {
		errors = append(errors, fmt.Errorf("pipeline.max_tokens must be between 0 and 200000, got %d", cfg.Pipeline.MaxTokens))
	}
	if cfg.Pipeline.Temperature < 0 || cfg.Pipeline.Temperature > 2 {
		errors = append(errors, fmt.Errorf("pipeline.temperature must be between 0 and 2, got %f", cfg.Pipeline.Temperature))
	}

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateSchedule(cfg.Collector.FlushSchedule); err != nil {
		errors = append(errors, err)
	}
	errors = append(errors, v.ValidateMessages(cfg.Messages)...)

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
