package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/harun/umile/internal/observability"
	"github.com/harun/umile/internal/tracing"
	"github.com/harun/umile/pkg/pool"
	"github.com/harun/umile/pkg/task"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultDedupSize = 2048
	DefaultDedupTTL  = 10 * time.Minute
)

// Request statuses reported in metrics.
const (
	StatusAccepted  = "accepted"
	StatusEmpty     = "empty"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// Request is an inbound mention or command.
type Request struct {
	EventID     string `json:"event_id,omitempty"`
	Channel     string `json:"channel"`
	Thread      string `json:"thread,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
	Text        string `json:"text"`
}

// Origin is the reply path of a request.
type Origin interface {
	Reply(ctx context.Context, text string) error
}

// OriginFunc adapts a function to Origin.
type OriginFunc func(ctx context.Context, text string) error

// Reply calls f(ctx, text).
func (f OriginFunc) Reply(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Submitter accepts tasks for execution.
type Submitter interface {
	Submit(ctx context.Context, t task.Task) (*pool.Handle, error)
}

// Config configures a Dispatcher.
type Config struct {
	Submitter Submitter
	Templates Templates
	// DedupSize bounds the number of remembered event ids.
	DedupSize int
	// DedupTTL is how long an event id is remembered.
	DedupTTL time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Dispatcher validates requests, submits tasks and notifies origins.
type Dispatcher struct {
	submitter Submitter
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	templates Templates

	dedupMu    sync.Mutex
	dedupCache *lru.Cache[string, time.Time]
	dedupTTL   time.Duration

	wg sync.WaitGroup
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("submitter is required")
	}

	size := cfg.DedupSize
	if size <= 0 {
		size = DefaultDedupSize
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	dedupCache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("event deduper init: %w", err)
	}

	observability.EnsureRegistered()

	return &Dispatcher{
		submitter:  cfg.Submitter,
		logger:     cfg.Logger.With().Str("component", "dispatcher").Logger(),
		now:        now,
		templates:  cfg.Templates.WithDefaults(),
		dedupCache: dedupCache,
		dedupTTL:   ttl,
	}, nil
}

// Templates returns the current notification texts.
func (d *Dispatcher) Templates() Templates {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.templates
}

// SetTemplates replaces the notification texts for subsequent requests.
func (d *Dispatcher) SetTemplates(t Templates) {
	d.mu.Lock()
	d.templates = t.WithDefaults()
	d.mu.Unlock()
}

// OnRequest handles one inbound request. It returns the task handle, or nil
// when nothing was submitted. It never blocks on task execution.
func (d *Dispatcher) OnRequest(ctx context.Context, req Request, origin Origin) *pool.Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.NewRequestContext(ctx, req.Channel, req.RequesterID)
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("thread", req.Thread).Logger()
	tmpl := d.Templates()

	if d.isDuplicate(req.EventID) {
		observability.RecordRequest(req.Channel, StatusDuplicate)
		logger.Debug().Str("event_id", req.EventID).Msg("Duplicate event dropped")
		return nil
	}

	prompt := ExtractPrompt(req.Text)
	if prompt == "" {
		observability.RecordRequest(req.Channel, StatusEmpty)
		logger.Debug().Msg("Empty prompt")
		d.deliver(ctx, origin, tmpl.MissingInput, logger)
		return nil
	}

	if tmpl.Ack != "" {
		d.deliver(ctx, origin, tmpl.ack(req.RequesterID), logger)
	}

	t := task.New(prompt, task.Origin{
		Channel:     req.Channel,
		Thread:      req.Thread,
		RequesterID: req.RequesterID,
	})
	ctx = tracing.WithTaskID(ctx, t.ID)
	logger = logger.With().Str("task_id", t.ID).Logger()

	handle, err := d.submitter.Submit(ctx, t)
	if err != nil {
		observability.RecordRequest(req.Channel, StatusRejected)
		logger.Warn().Err(err).Msg("Task rejected")
		d.deliver(ctx, origin, tmpl.failure(tmpl.Unavailable), logger)
		return nil
	}

	observability.RecordRequest(req.Channel, StatusAccepted)
	logger.Info().Msg("Task submitted")

	d.wg.Add(1)
	go d.notifyCompletion(tracing.CloneContext(ctx), handle, origin, logger)

	return handle
}

// notifyCompletion waits for the task result and delivers it to origin once.
func (d *Dispatcher) notifyCompletion(ctx context.Context, handle *pool.Handle, origin Origin, logger zerolog.Logger) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			observability.RecordNotification(false)
			logger.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Completion notification panicked")
		}
	}()

	<-handle.Done()
	result, _ := handle.Result()

	tmpl := d.Templates()
	var text string
	if result.IsOk() {
		text = tmpl.success(result.Message)
	} else {
		text = tmpl.failure(result.Message)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"umile.dispatcher",
		"dispatcher.notify",
		attribute.String("outcome", string(result.Outcome)),
	)
	defer span.End()

	if err := d.reply(ctx, origin, text); err != nil {
		tracing.FailSpan(span, err)
		observability.RecordNotification(false)
		logger.Error().Err(err).Str("result", result.String()).Msg("Failed to deliver completion notification")
		return
	}

	observability.RecordNotification(true)
	logger.Debug().Str("result", result.String()).Msg("Completion notification delivered")
}

// deliver sends an informational reply; failures are logged only.
func (d *Dispatcher) deliver(ctx context.Context, origin Origin, text string, logger zerolog.Logger) {
	if err := d.reply(ctx, origin, text); err != nil {
		logger.Warn().Err(err).Msg("Failed to deliver reply")
	}
}

// reply calls origin.Reply, converting a panic into an error.
func (d *Dispatcher) reply(ctx context.Context, origin Origin, text string) (err error) {
	if origin == nil {
		return errors.New("no origin to reply to")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply panicked: %v", r)
		}
	}()
	return origin.Reply(ctx, text)
}

func (d *Dispatcher) isDuplicate(eventID string) bool {
	if eventID == "" {
		return false
	}
	d.dedupMu.Lock()
	defer d.dedupMu.Unlock()

	now := d.now()
	if ts, ok := d.dedupCache.Get(eventID); ok {
		if now.Sub(ts) <= d.dedupTTL {
			return true
		}
		d.dedupCache.Remove(eventID)
	}
	d.dedupCache.Add(eventID, now)
	return false
}

// Wait blocks until every pending notification has been delivered or the
// timeout elapses. It returns false on timeout.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for pending notifications")
		return false
	}
}
