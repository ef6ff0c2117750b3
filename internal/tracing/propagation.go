package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.TaskID != "" {
		logger = logger.With().Str("task_id", tc.TaskID).Logger()
	}
	if tc.Channel != "" {
		logger = logger.With().Str("channel", tc.Channel).Logger()
	}
	if tc.Requester != "" {
		logger = logger.With().Str("requester", tc.Requester).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext merges tracing information from source context into target context
// without overwriting values the target already carries.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.TaskID != "" && GetTaskID(target) == "" {
		target = WithTaskID(target, tc.TaskID)
	}
	if tc.Channel != "" && GetChannel(target) == "" {
		target = WithChannel(target, tc.Channel)
	}
	if tc.Requester != "" && GetRequester(target) == "" {
		target = WithRequester(target, tc.Requester)
	}

	return target
}

// CloneContext creates a new background context with the same tracing
// information. Work that outlives the inbound request (task execution,
// completion notification) runs on a clone so request cancellation does not
// reach it.
func CloneContext(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	return NewContext(context.Background(), tc)
}
