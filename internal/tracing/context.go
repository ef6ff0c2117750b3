package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TaskIDKey is the context key for the pool task ID
	TaskIDKey ContextKey = "task_id"
	// ChannelKey is the context key for the inbound channel name
	ChannelKey ContextKey = "channel"
	// RequesterKey is the context key for the requesting user
	RequesterKey ContextKey = "requester"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TaskID    string
	Channel   string
	Requester string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTaskID adds a task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithChannel adds the inbound channel name to the context
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

// WithRequester adds the requester ID to the context
func WithRequester(ctx context.Context, requester string) context.Context {
	return context.WithValue(ctx, RequesterKey, requester)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string {
	return stringValue(ctx, TaskIDKey)
}

// GetChannel retrieves the channel name from the context
func GetChannel(ctx context.Context) string {
	return stringValue(ctx, ChannelKey)
}

// GetRequester retrieves the requester ID from the context
func GetRequester(ctx context.Context) string {
	return stringValue(ctx, RequesterKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TaskID:    GetTaskID(ctx),
		Channel:   GetChannel(ctx),
		Requester: GetRequester(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TaskID != "" {
		ctx = WithTaskID(ctx, tc.TaskID)
	}
	if tc.Channel != "" {
		ctx = WithChannel(ctx, tc.Channel)
	}
	if tc.Requester != "" {
		ctx = WithRequester(ctx, tc.Requester)
	}
	return ctx
}

// NewRequestContext creates a new context for an inbound request with a new trace ID
func NewRequestContext(ctx context.Context, channel, requester string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if channel != "" {
		ctx = WithChannel(ctx, channel)
	}
	if requester != "" {
		ctx = WithRequester(ctx, requester)
	}
	return ctx
}
