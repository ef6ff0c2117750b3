package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/umile/internal/tracing"
	"github.com/harun/umile/pkg/classify"
	"github.com/harun/umile/pkg/flow"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = time.Second
)

// Config configures an LLM pipeline.
type Config struct {
	Provider     Provider
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries; a negative value selects DefaultMaxRetries.
	MaxRetries int
	// RetryDelay is the first backoff delay; it doubles on every retry.
	RetryDelay time.Duration
	Logger     zerolog.Logger
}

// LLM is a flow.Pipeline making one completion call per prompt.
type LLM struct {
	provider     Provider
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
	maxRetries   int
	retryDelay   time.Duration
	logger       zerolog.Logger
}

var _ flow.Pipeline = (*LLM)(nil)

// New creates an LLM pipeline.
func New(cfg Config) (*LLM, error) {
	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Model == "" && cfg.Provider.Name() != "echo" {
		return nil, errors.New("model is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	return &LLM{
		provider:     cfg.Provider,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		logger:       cfg.Logger.With().Str("component", "pipeline").Str("provider", cfg.Provider.Name()).Logger(),
	}, nil
}

// Run sends prompt to the provider and returns the answer with one exchange.
func (p *LLM) Run(ctx context.Context, prompt string) (flow.Output, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"umile.pipeline",
		"pipeline.run",
		attribute.String("provider", p.provider.Name()),
		attribute.String("model", p.model),
	)
	defer span.End()

	response, err := p.callWithRetry(ctx, Request{
		Model:        p.model,
		SystemPrompt: p.systemPrompt,
		Prompt:       prompt,
		MaxTokens:    p.maxTokens,
		Temperature:  p.temperature,
	})
	if err != nil {
		tracing.FailSpan(span, err)
		return flow.Output{}, err
	}

	span.SetAttributes(
		attribute.Int("input_tokens", response.Usage.InputTokens),
		attribute.Int("output_tokens", response.Usage.OutputTokens),
	)

	return flow.Output{
		Text: response.Content,
		Exchanges: []flow.Exchange{
			{Messages: response.Messages, Output: response.Raw},
		},
	}, nil
}

// callWithRetry calls the provider with exponential backoff retry
func (p *LLM) callWithRetry(ctx context.Context, request Request) (*Response, error) {
	logger := tracing.LoggerFromContext(ctx, p.logger)
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		response, err := p.provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s call interrupted: %w", p.provider.Name(), err)
		}

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, p.wrap(err)
		}

		// Last attempt - don't wait
		if attempt == p.maxRetries {
			break
		}

		delay := p.retryDelay * time.Duration(1<<attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, p.wrap(fmt.Errorf("max retries (%d) exceeded: %w", p.maxRetries, lastErr))
}

// wrap marks provider API errors as critical language model failures.
func (p *LLM) wrap(err error) error {
	if code := statusCode(err); code > 0 {
		return classify.Critical(p.provider.Name(), code, err)
	}
	return fmt.Errorf("%s call failed: %w", p.provider.Name(), err)
}
