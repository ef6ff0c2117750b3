package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harun/umile/pkg/classify"
	"github.com/harun/umile/pkg/collector"
	"github.com/harun/umile/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T, p Pipeline, deadline time.Duration) (*Runner, *collector.Collector) {
	t.Helper()
	c := collector.New(collector.Config{Dir: t.TempDir()})
	r, err := New(Config{
		Deadline: deadline,
		Pipeline: p,
		Recorder: c,
	})
	require.NoError(t, err)
	return r, c
}

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	r, err := New(Config{Pipeline: PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		return Output{}, nil
	})})
	require.NoError(t, err)

	assert.Equal(t, DefaultDeadline, r.Deadline())
	assert.Equal(t, DefaultMessages(), r.Messages())
}

func TestRun_Success(t *testing.T) {
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		return Output{
			Text: "answer to " + prompt,
			Exchanges: []Exchange{
				{Messages: []collector.Message{{Role: "user", Content: prompt}}, Output: "answer to " + prompt},
			},
		}, nil
	})
	r, c := newRunner(t, p, time.Second)
	r.SetMessages(Messages{Completed: "Done: {output}"})

	res := r.Run(context.Background(), task.New("hello", task.Origin{}))

	assert.True(t, res.IsOk())
	assert.Equal(t, "Done: answer to hello", res.Message)
	assert.Equal(t, task.KindNone, res.ErrorKind)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Messages[0].Content)
}

func TestRun_ExchangesRecordedInOrder(t *testing.T) {
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		var ex []Exchange
		for i := 0; i < 3; i++ {
			ex = append(ex, Exchange{Messages: fmt.Sprintf("step %d", i), Output: i})
		}
		return Output{Exchanges: ex}, nil
	})
	r, c := newRunner(t, p, time.Second)

	require.True(t, r.Run(context.Background(), task.New("p", task.Origin{})).IsOk())

	entries := c.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("step %d", i), e.Messages[0].Content)
	}
}

func TestRun_Timeout(t *testing.T) {
	cancelled := make(chan struct{})
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		<-ctx.Done()
		close(cancelled)
		return Output{Exchanges: []Exchange{{Messages: "late", Output: "late"}}}, nil
	})
	r, c := newRunner(t, p, 30*time.Millisecond)
	r.SetMessages(Messages{Timeout: "timed out after {deadline}"})

	res := r.Run(context.Background(), task.New("slow", task.Origin{}))

	assert.False(t, res.IsOk())
	assert.Equal(t, task.KindGeneric, res.ErrorKind)
	assert.Equal(t, "timed out after 30ms", res.Message)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("pipeline context was not cancelled")
	}
	assert.Equal(t, 0, c.Len())
}

func TestRun_TimeoutWhenPipelineIgnoresCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		<-release
		return Output{Exchanges: []Exchange{{Messages: "late", Output: "late"}}}, nil
	})
	r, c := newRunner(t, p, 20*time.Millisecond)

	start := time.Now()
	res := r.Run(context.Background(), task.New("stuck", task.Origin{}))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, DefaultMessages().Timeout, res.Message)
	assert.Equal(t, 0, c.Len())
}

func TestRun_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind task.ErrorKind
		msg  string
	}{
		{
			name: "critical sentinel",
			err:  fmt.Errorf("call failed: %w", classify.ErrLLMCritical),
			kind: task.KindCritical,
			msg:  DefaultMessages().Critical,
		},
		{
			name: "critical error type",
			err:  classify.Critical("openai", 500, errors.New("server error")),
			kind: task.KindCritical,
			msg:  DefaultMessages().Critical,
		},
		{
			name: "generic",
			err:  errors.New("search provider down"),
			kind: task.KindGeneric,
			msg:  DefaultMessages().Generic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
				return Output{Exchanges: []Exchange{{Messages: "x", Output: "y"}}}, tt.err
			})
			r, c := newRunner(t, p, time.Second)

			res := r.Run(context.Background(), task.New("p", task.Origin{}))

			assert.False(t, res.IsOk())
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, tt.msg, res.Message)
			assert.NotContains(t, res.Message, tt.err.Error())
			assert.Equal(t, 0, c.Len())
		})
	}
}

func TestRun_CriticalAndGenericMessagesDiffer(t *testing.T) {
	m := DefaultMessages()
	assert.NotEqual(t, m.Critical, m.Generic)
}

func TestRun_PipelinePanic(t *testing.T) {
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		panic("pipeline exploded")
	})
	r, c := newRunner(t, p, time.Second)

	res := r.Run(context.Background(), task.New("p", task.Origin{}))

	assert.False(t, res.IsOk())
	assert.Equal(t, task.KindGeneric, res.ErrorKind)
	assert.Equal(t, 0, c.Len())
}

func TestRun_CallerCancellation(t *testing.T) {
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	})
	r, _ := newRunner(t, p, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := r.Run(ctx, task.New("p", task.Origin{}))

	assert.False(t, res.IsOk())
	assert.Equal(t, task.KindGeneric, res.ErrorKind)
	assert.Equal(t, DefaultMessages().Generic, res.Message)
}

func TestRun_CustomClassifier(t *testing.T) {
	p := PipelineFunc(func(ctx context.Context, prompt string) (Output, error) {
		return Output{}, errors.New("quota")
	})
	r, err := New(Config{
		Pipeline: p,
		Classifier: classify.ClassifierFunc(func(err error) task.ErrorKind {
			return task.KindCritical
		}),
	})
	require.NoError(t, err)

	res := r.Run(context.Background(), task.New("p", task.Origin{}))
	assert.Equal(t, task.KindCritical, res.ErrorKind)
}
