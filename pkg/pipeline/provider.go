package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Provider is a single-call language model backend.
type Provider interface {
	// Call makes one completion request.
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Request contains the parameters of one completion call.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Response is the result of one completion call.
type Response struct {
	Content string
	// Messages is the conversation as sent, in the provider's own representation.
	Messages any
	// Raw is the provider's response object.
	Raw   any
	Usage Usage
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// NewProvider creates a provider by name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "echo":
		return EchoProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// EchoProvider answers every prompt with the prompt itself. It needs no
// credentials and is used for local runs.
type EchoProvider struct{}

// Name returns the provider name.
func (EchoProvider) Name() string {
	return "echo"
}

// Call returns the prompt unchanged.
func (EchoProvider) Call(ctx context.Context, request Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{
		Content: request.Prompt,
		Messages: []map[string]any{
			{"role": "user", "content": request.Prompt},
		},
		Raw: request.Prompt,
	}, nil
}

// statusCode extracts the HTTP status of a provider API error, or 0.
func statusCode(err error) int {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch code := statusCode(err); {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	case code > 0:
		return false
	}

	errMsg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(errMsg, "econnreset") || strings.Contains(errMsg, "etimedout") ||
		strings.Contains(errMsg, "connection reset") || strings.Contains(errMsg, "unexpected eof") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}

	return false
}
