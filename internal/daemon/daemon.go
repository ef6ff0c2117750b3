package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/umile/internal/config"
	"github.com/harun/umile/internal/logger"
	"github.com/harun/umile/internal/observability"
	"github.com/harun/umile/internal/telegram"
	"github.com/harun/umile/internal/tracing"
	"github.com/harun/umile/pkg/channels"
	"github.com/harun/umile/pkg/collector"
	"github.com/harun/umile/pkg/dispatcher"
	"github.com/harun/umile/pkg/flow"
	"github.com/harun/umile/pkg/gateway"
	"github.com/harun/umile/pkg/pipeline"
	"github.com/harun/umile/pkg/pool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const serviceName = "umile"

// Daemon owns the task execution stack and the channels feeding it.
type Daemon struct {
	config     *config.Config
	logger     *logger.Logger
	configPath string
	consoleOut io.Writer
	oneShot    bool

	// Core modules
	collector  *collector.Collector
	archive    *collector.SQLiteArchive
	runner     *flow.Runner
	pool       *pool.Pool
	dispatcher *dispatcher.Dispatcher

	// Channels
	registry      *channels.Registry
	console       *channels.Console
	gatewayServer *gateway.Server
	telegramBot   *telegram.Bot

	// Services
	scheduler *cron.Cron
	watcher   *config.Watcher

	// Internal
	lifecycle *LifecycleManager
	flushOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
	Pool      pool.Stats    `json:"pool"`
	Pending   int           `json:"pending"`
	Channels  []string      `json:"channels"`
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithConfigPath enables hot reload of message templates from path.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// WithConsoleOutput sets where console replies are written.
func WithConsoleOutput(w io.Writer) Option {
	return func(d *Daemon) {
		d.consoleOut = w
	}
}

// WithOneShot runs only the console channel: no PID file, no gateway, no
// telegram, no scheduled flush and no config watcher.
func WithOneShot() Option {
	return func(d *Daemon) {
		d.oneShot = true
	}
}

var newPipeline = func(cfg config.PipelineConfig, log zerolog.Logger) (flow.Pipeline, error) {
	provider, err := pipeline.NewProvider(pipeline.ProviderConfig{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Provider:     provider,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		MaxRetries:   cfg.MaxRetries,
		Logger:       log,
	})
}

var newTelegramBot = func(cfg config.TelegramConfig, log zerolog.Logger) (*telegram.Bot, error) {
	return telegram.New(cfg.BotToken, cfg.PollTimeout, log)
}

// New creates a daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		logger:     log,
		consoleOut: os.Stdout,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(serviceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeChannels(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize channels: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds collector, runner, pool and dispatcher.
func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.GetZerolog()

	collectorCfg := collector.Config{
		Dir:    d.config.Collector.Dir,
		Logger: zl,
	}
	if d.config.Collector.Archive.Enabled {
		archive, err := collector.OpenSQLiteArchive(d.config.Collector.Archive.Path)
		if err != nil {
			return fmt.Errorf("failed to open collection archive: %w", err)
		}
		d.archive = archive
		collectorCfg.Archive = archive
		d.logger.Info().Str("path", d.config.Collector.Archive.Path).Msg("Collection archive opened")
	}
	d.collector = collector.New(collectorCfg)
	d.logger.Info().
		Str("dir", d.collector.Dir()).
		Str("scope", d.config.Collector.Scope).
		Msg("Collector initialized")

	p, err := newPipeline(d.config.Pipeline, zl)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	d.logger.Info().
		Str("provider", d.config.Pipeline.Provider).
		Str("model", d.config.Pipeline.Model).
		Msg("Pipeline initialized")

	runner, err := flow.New(flow.Config{
		Deadline: time.Duration(d.config.Flow.Deadline) * time.Second,
		Pipeline: p,
		Recorder: d.collector,
		Messages: flowMessages(d.config.Messages),
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create flow runner: %w", err)
	}
	d.runner = runner

	d.pool = pool.New(pool.Config{
		Capacity:       d.config.Pool.Capacity,
		Executor:       d.runner,
		Logger:         zl,
		DiscardMessage: d.config.Messages.Discarded,
	})
	if d.config.Collector.Scope == config.ScopeRun {
		d.pool.On(pool.EventCompleted, d.onTaskCompleted)
	}
	d.logger.Info().Int("capacity", d.pool.Capacity()).Msg("Worker pool initialized")

	disp, err := dispatcher.New(dispatcher.Config{
		Submitter: d.pool,
		Templates: dispatcherTemplates(d.config.Messages),
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	d.dispatcher = disp
	d.logger.Info().Msg("Dispatcher initialized")

	return nil
}

// initializeChannels registers the console and, unless one-shot, the
// configured gateway and telegram channels.
func (d *Daemon) initializeChannels() error {
	d.registry = channels.NewRegistry(d.dispatcher.OnRequest)

	d.console = channels.NewConsole(d.consoleOut, channels.ConsoleName)
	if err := d.registry.Register(d.console); err != nil {
		return err
	}

	if d.oneShot {
		return nil
	}

	if d.config.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Host:              d.config.Gateway.Host,
			Port:              d.config.Gateway.Port,
			SharedSecret:      d.config.Gateway.SharedSecret,
			RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
			MaxInFlight:       d.config.Gateway.MaxInFlight,
			Stats:             d.pool.Stats,
			Logger:            d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		if err := d.registry.Register(server); err != nil {
			return err
		}
		d.gatewayServer = server
		d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")
	}

	if d.config.Telegram.Enabled {
		bot, err := newTelegramBot(d.config.Telegram, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		if err := d.registry.Register(telegram.NewChannel(bot, d.config.Telegram.RequireMention)); err != nil {
			return err
		}
		d.telegramBot = bot
		d.logger.Info().Str("username", bot.Username()).Msg("Telegram bot initialized")
	}

	return nil
}

// initializeServices sets up the scheduled flush and the config watcher.
func (d *Daemon) initializeServices() error {
	if d.oneShot {
		return nil
	}

	spec := d.config.Collector.FlushSchedule
	if spec != "" && d.config.Collector.Scope == config.ScopeProcess {
		d.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := d.scheduler.AddFunc(spec, func() { d.dumpCollector("schedule") }); err != nil {
			return fmt.Errorf("invalid flush schedule %q: %w", spec, err)
		}
		d.logger.Info().Str("schedule", spec).Msg("Collector flush scheduled")
	}

	if d.configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path:     d.configPath,
			OnReload: d.applyConfig,
			Logger:   d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	return nil
}

// release frees what a failed New acquired.
func (d *Daemon) release() {
	d.cancel()
	if d.pool != nil {
		_ = d.pool.Close()
	}
	if d.archive != nil {
		_ = d.archive.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Bool("one_shot", d.oneShot).Msg("Starting umile daemon")

	if !d.oneShot {
		if err := d.lifecycle.Start(); err != nil {
			d.setStopped()
			return fmt.Errorf("failed to start lifecycle manager: %w", err)
		}
	}

	if err := d.registry.StartAll(d.ctx); err != nil {
		if !d.oneShot {
			_ = d.lifecycle.Stop()
		}
		d.setStopped()
		return fmt.Errorf("failed to start channels: %w", err)
	}
	logger.Info().Strs("channels", d.registry.Names()).Msg("Channels started")

	if d.scheduler != nil {
		d.scheduler.Start()
		logger.Info().Msg("Flush scheduler started")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload unavailable")
		} else {
			logger.Info().Str("path", d.configPath).Msg("Config watcher started")
		}
	}

	logger.Info().Msg("Daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop shuts the daemon down following collector.shutdown_policy and flushes
// the collector exactly once.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("policy", d.config.Collector.ShutdownPolicy).Msg("Stopping umile daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
		logger.Info().Msg("Flush scheduler stopped")
	}

	d.shutdown(logger)

	d.cancel()

	if d.archive != nil {
		if err := d.archive.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close collection archive")
		}
	}

	if !d.oneShot {
		if err := d.lifecycle.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT, SIGTERM or ctx cancellation, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	d.logger.Info().Msg("Shutdown requested")

	return d.Stop()
}

// Ask submits prompt through the console channel. The handle is nil when
// nothing was submitted; the console has already been told why.
func (d *Daemon) Ask(ctx context.Context, prompt string) (*pool.Handle, error) {
	return d.console.Ask(ctx, prompt)
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Pool:     d.pool.Stats(),
		Pending:  d.collector.Len(),
		Channels: d.registry.Names(),
	}

	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}

	return status
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetCollector returns the collector
func (d *Daemon) GetCollector() *collector.Collector {
	return d.collector
}

// GetPool returns the worker pool
func (d *Daemon) GetPool() *pool.Pool {
	return d.pool
}

// GetDispatcher returns the dispatcher
func (d *Daemon) GetDispatcher() *dispatcher.Dispatcher {
	return d.dispatcher
}

// GetRunner returns the flow runner
func (d *Daemon) GetRunner() *flow.Runner {
	return d.runner
}

// GetChannelRegistry returns the channel registry
func (d *Daemon) GetChannelRegistry() *channels.Registry {
	return d.registry
}

// GetGatewayServer returns the gateway server, nil when disabled.
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetTelegramBot returns the telegram bot, nil when disabled.
func (d *Daemon) GetTelegramBot() *telegram.Bot {
	return d.telegramBot
}
