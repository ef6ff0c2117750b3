package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/harun/umile/internal/observability"
	"github.com/harun/umile/internal/tracing"
	"github.com/harun/umile/pkg/task"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrPoolClosed is returned by Submit after Shutdown or Close.
var ErrPoolClosed = errors.New("pool is closed")

const (
	DefaultCapacity       = 4
	DefaultDiscardMessage = "The service is shutting down and your request was not started."
	DefaultPanicMessage   = "Something went wrong while processing your request."
)

// Event types emitted by the pool.
const (
	EventSubmitted = "submitted"
	EventStarted   = "started"
	EventCompleted = "completed"
	EventDiscarded = "discarded"
)

// Executor runs a single task to completion. Implementations must honor ctx.
type Executor interface {
	Run(ctx context.Context, t task.Task) task.Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t task.Task) task.Result

// Run calls f(ctx, t).
func (f ExecutorFunc) Run(ctx context.Context, t task.Task) task.Result {
	return f(ctx, t)
}

// Config configures a Pool.
type Config struct {
	Capacity int
	Executor Executor
	Logger   zerolog.Logger
	// DiscardMessage is the result message of tasks dropped by Shutdown.
	DiscardMessage string
	// PanicMessage is the result message of tasks whose executor panicked.
	PanicMessage string
}

// Event describes a pool state change.
type Event struct {
	Type   string
	TaskID string
	Data   map[string]interface{}
}

// EventHandler handles pool events. Handlers run synchronously.
type EventHandler func(event Event)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Capacity int  `json:"capacity"`
	Queued   int  `json:"queued"`
	Running  int  `json:"running"`
	Closed   bool `json:"closed"`
}

type taskRecord struct {
	handle     *Handle
	ctx        context.Context
	enqueuedAt time.Time
}

// Pool is a fixed-capacity FIFO worker pool.
type Pool struct {
	capacity       int
	executor       Executor
	logger         zerolog.Logger
	discardMessage string
	panicMessage   string

	mu      sync.Mutex
	queue   []*taskRecord
	running int
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a pool. A non-positive capacity falls back to DefaultCapacity.
func New(cfg Config) *Pool {
	observability.EnsureRegistered()

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	discard := cfg.DiscardMessage
	if discard == "" {
		discard = DefaultDiscardMessage
	}
	panicMsg := cfg.PanicMessage
	if panicMsg == "" {
		panicMsg = DefaultPanicMessage
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		capacity:       capacity,
		executor:       cfg.Executor,
		logger:         cfg.Logger.With().Str("component", "pool").Logger(),
		discardMessage: discard,
		panicMessage:   panicMsg,
		ctx:            ctx,
		cancel:         cancel,
		eventHandlers:  make(map[string][]EventHandler),
	}
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Submit queues t for execution and returns its completion handle without
// waiting. ctx contributes tracing values only; the task's lifetime is owned
// by the pool.
func (p *Pool) Submit(ctx context.Context, t task.Task) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTaskID(ctx) == "" {
		ctx = tracing.WithTaskID(ctx, t.ID)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"umile.pool",
		"pool.submit",
		attribute.String("task_id", t.ID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, p.logger)

	record := &taskRecord{
		handle:     newHandle(t),
		ctx:        tracing.CloneContext(ctx),
		enqueuedAt: time.Now(),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		tracing.FailSpan(span, ErrPoolClosed)
		return nil, ErrPoolClosed
	}
	p.queue = append(p.queue, record)
	queueSize := len(p.queue)
	p.mu.Unlock()

	logger.Debug().
		Int("queue_size", queueSize).
		Msg("Task submitted")

	observability.RecordSubmission(queueSize)

	p.emit(Event{
		Type:   EventSubmitted,
		TaskID: t.ID,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	p.dispatch()

	return record.handle, nil
}

// dispatch starts queued tasks while free slots remain.
func (p *Pool) dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.running < p.capacity && len(p.queue) > 0 {
		record := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]

		p.running++
		observability.SetPoolState(len(p.queue), p.running)

		p.wg.Add(1)
		go p.execute(record)
	}
}

func (p *Pool) execute(record *taskRecord) {
	defer p.wg.Done()

	t := record.handle.task
	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"umile.pool",
		"pool.execute",
		attribute.String("task_id", t.ID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, p.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(p.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	wait := time.Since(record.enqueuedAt)
	logger.Debug().Dur("wait", wait).Msg("Task started")
	p.emit(Event{
		Type:   EventStarted,
		TaskID: t.ID,
		Data: map[string]interface{}{
			"waitMs": wait.Milliseconds(),
		},
	})

	startTime := time.Now()
	result := p.runSafely(runCtx, t, logger)
	duration := time.Since(startTime)

	p.mu.Lock()
	p.running--
	queueSize := len(p.queue)
	running := p.running
	p.mu.Unlock()

	record.handle.resolve(result)

	if !result.IsOk() {
		span.SetAttributes(attribute.String("error_kind", result.ErrorKind.String()))
		logger.Warn().
			Str("outcome", string(result.Outcome)).
			Str("error_kind", result.ErrorKind.String()).
			Dur("duration", duration).
			Msg("Task failed")
	} else {
		logger.Debug().
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordTaskResult(duration, string(result.Outcome), string(result.ErrorKind))
	observability.SetPoolState(queueSize, running)

	p.emit(Event{
		Type:   EventCompleted,
		TaskID: t.ID,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  result.IsOk(),
			"result":   result,
		},
	})

	p.dispatch()
}

// runSafely converts an executor panic into a failed result.
func (p *Pool) runSafely(ctx context.Context, t task.Task, logger zerolog.Logger) (result task.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Executor panicked")
			result = task.Failed(task.KindGeneric, p.panicMessage)
		}
	}()

	if p.executor == nil {
		return task.Failed(task.KindGeneric, p.panicMessage)
	}
	return p.executor.Run(ctx, t)
}

// Shutdown stops accepting submissions and discards queued tasks. Running
// tasks are not interrupted. Each discarded handle resolves with a failed
// result. It returns the number of discarded tasks and never blocks.
func (p *Pool) Shutdown() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	discarded := p.queue
	p.queue = nil
	running := p.running
	p.mu.Unlock()

	for _, record := range discarded {
		record.handle.resolve(task.Failed(task.KindGeneric, p.discardMessage))
		p.emit(Event{Type: EventDiscarded, TaskID: record.handle.task.ID})
	}

	observability.RecordDiscarded(len(discarded))
	observability.SetPoolState(0, running)

	p.logger.Info().
		Int("discarded", len(discarded)).
		Int("running", running).
		Msg("Pool shut down")

	return len(discarded)
}

// Drain waits until no task is queued or running. It returns false on timeout.
func (p *Pool) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		idle := p.running == 0 && len(p.queue) == 0
		p.mu.Unlock()

		if idle {
			p.logger.Info().Msg("All active tasks completed")
			return true
		}

		if time.Now().After(deadline) {
			p.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close shuts the pool down, cancels running tasks and waits for them.
func (p *Pool) Close() error {
	p.Shutdown()
	p.cancel()
	p.wg.Wait()
	return nil
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Capacity: p.capacity,
		Queued:   len(p.queue),
		Running:  p.running,
		Closed:   p.closed,
	}
}

// On registers an event handler for a specific event type.
func (p *Pool) On(eventType string, handler EventHandler) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	p.eventHandlers[eventType] = append(p.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type.
func (p *Pool) Off(eventType string) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	delete(p.eventHandlers, eventType)
}

func (p *Pool) emit(event Event) {
	p.eventMu.RLock()
	handlers := p.eventHandlers[event.Type]
	p.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
