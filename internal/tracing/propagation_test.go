package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithTaskID(ctx, "task-abc")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("test message")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-123"`) {
		t.Errorf("Expected trace_id in log output, got %s", out)
	}
	if !strings.Contains(out, `"task_id":"task-abc"`) {
		t.Errorf("Expected task_id in log output, got %s", out)
	}
	if strings.Contains(out, "channel") {
		t.Errorf("Did not expect channel field, got %s", out)
	}
}

func TestMergeContext(t *testing.T) {
	target := WithTraceID(context.Background(), "target-trace")
	source := context.Background()
	source = WithTraceID(source, "source-trace")
	source = WithTaskID(source, "source-task")

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "target-trace" {
		t.Error("Existing trace ID should not be overwritten")
	}
	if GetTaskID(merged) != "source-task" {
		t.Error("Missing task ID should be merged from source")
	}
}

func TestCloneContextDetachesCancellation(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	parent = WithTraceID(parent, "trace-1")
	parent = WithChannel(parent, "gateway")
	cancel()

	clone := CloneContext(parent)

	if clone.Err() != nil {
		t.Error("Clone should not inherit cancellation")
	}
	if GetTraceID(clone) != "trace-1" || GetChannel(clone) != "gateway" {
		t.Error("Clone should carry tracing values")
	}
}
