package flow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/harun/umile/internal/tracing"
	"github.com/harun/umile/pkg/classify"
	"github.com/harun/umile/pkg/collector"
	"github.com/harun/umile/pkg/task"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultDeadline bounds a single pipeline invocation.
const DefaultDeadline = time.Hour

// ErrDeadlineExceeded is the cancellation cause of a pipeline call that ran
// past its deadline.
var ErrDeadlineExceeded = errors.New("pipeline deadline exceeded")

// Exchange is one prompt/response pair produced by a pipeline.
type Exchange struct {
	Messages any
	Output   any
}

// Output is the value of a successful pipeline run.
type Output struct {
	// Text is the final answer, available to the completed message as {output}.
	Text string
	// Exchanges are recorded in order once the run succeeds.
	Exchanges []Exchange
}

// Pipeline is the agent process that turns a prompt into a response. It must
// return promptly once ctx is done.
type Pipeline interface {
	Run(ctx context.Context, prompt string) (Output, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, prompt string) (Output, error)

// Run calls f(ctx, prompt).
func (f PipelineFunc) Run(ctx context.Context, prompt string) (Output, error) {
	return f(ctx, prompt)
}

// Recorder stores exchanges of successful runs.
type Recorder interface {
	Collect(messages any, output any) collector.Entry
}

// Config configures a Runner.
type Config struct {
	Deadline   time.Duration
	Pipeline   Pipeline
	Recorder   Recorder
	Classifier classify.Classifier
	Messages   Messages
	Logger     zerolog.Logger
}

// Runner executes tasks through a Pipeline. It implements pool.Executor.
type Runner struct {
	deadline   time.Duration
	pipeline   Pipeline
	recorder   Recorder
	classifier classify.Classifier
	logger     zerolog.Logger

	mu       sync.RWMutex
	messages Messages
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}

	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = classify.Default
	}

	return &Runner{
		deadline:   deadline,
		pipeline:   cfg.Pipeline,
		recorder:   cfg.Recorder,
		classifier: classifier,
		logger:     cfg.Logger.With().Str("component", "flow").Logger(),
		messages:   cfg.Messages.WithDefaults(),
	}, nil
}

// Deadline returns the per-task deadline.
func (r *Runner) Deadline() time.Duration {
	return r.deadline
}

// Messages returns the current result texts.
func (r *Runner) Messages() Messages {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages
}

// SetMessages replaces the result texts used by subsequent runs.
func (r *Runner) SetMessages(m Messages) {
	r.mu.Lock()
	r.messages = m.WithDefaults()
	r.mu.Unlock()
}

type pipelineResult struct {
	out Output
	err error
}

// Run invokes the pipeline once for t and returns its result.
func (r *Runner) Run(ctx context.Context, t task.Task) task.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithTaskID(ctx, t.ID)

	ctx, span := tracing.StartSpan(
		ctx,
		"umile.flow",
		"flow.run",
		attribute.String("task_id", t.ID),
		attribute.String("deadline", r.deadline.String()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	msgs := r.Messages()

	logger.Info().Int("prompt_len", len(t.Prompt)).Msg("Processing request")
	start := time.Now()

	runCtx, cancel := context.WithTimeoutCause(ctx, r.deadline, ErrDeadlineExceeded)
	defer cancel()

	// Buffered so a pipeline returning after the deadline never blocks.
	done := make(chan pipelineResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Str("panic", fmt.Sprint(rec)).
					Bytes("stack", debug.Stack()).
					Msg("Pipeline panicked")
				done <- pipelineResult{err: fmt.Errorf("pipeline panic: %v", rec)}
			}
		}()
		out, err := r.pipeline.Run(runCtx, t.Prompt)
		done <- pipelineResult{out: out, err: err}
	}()

	var res pipelineResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		return r.interrupted(runCtx, span, logger, msgs, start)
	}

	// A value that raced with the deadline is still a timeout.
	if runCtx.Err() != nil && errors.Is(context.Cause(runCtx), ErrDeadlineExceeded) {
		return r.interrupted(runCtx, span, logger, msgs, start)
	}

	elapsed := time.Since(start)
	if res.err != nil {
		kind := r.classifier.Classify(res.err)
		tracing.FailSpan(span, res.err)
		span.SetAttributes(attribute.String("error_kind", kind.String()))
		logger.Error().
			Err(res.err).
			Str("error_kind", kind.String()).
			Dur("elapsed", elapsed).
			Msg("Pipeline failed")

		if kind == task.KindCritical {
			return task.Failed(task.KindCritical, msgs.Critical)
		}
		return task.Failed(task.KindGeneric, msgs.Generic)
	}

	if r.recorder != nil {
		for _, ex := range res.out.Exchanges {
			r.recorder.Collect(ex.Messages, ex.Output)
		}
	}

	span.SetAttributes(attribute.Int("exchanges", len(res.out.Exchanges)))
	logger.Info().
		Dur("elapsed", elapsed).
		Int("exchanges", len(res.out.Exchanges)).
		Msgf("Request processed in %.2f seconds", elapsed.Seconds())

	return task.Ok(msgs.completed(res.out.Text))
}

// interrupted builds the result of a run whose context ended before the
// pipeline returned: a timeout when the deadline fired, a generic failure
// when the caller cancelled.
func (r *Runner) interrupted(runCtx context.Context, span trace.Span, logger zerolog.Logger, msgs Messages, start time.Time) task.Result {
	cause := context.Cause(runCtx)
	elapsed := time.Since(start)

	if errors.Is(cause, ErrDeadlineExceeded) {
		span.SetAttributes(attribute.Bool("timeout", true))
		logger.Error().
			Dur("deadline", r.deadline).
			Dur("elapsed", elapsed).
			Msg("Request processing timed out")
		return task.Failed(task.KindGeneric, msgs.timeout(r.deadline))
	}

	logger.Warn().
		AnErr("cause", cause).
		Dur("elapsed", elapsed).
		Msg("Request cancelled")
	return task.Failed(task.KindGeneric, msgs.Generic)
}
