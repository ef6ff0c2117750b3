package daemon

import (
	"context"
	"time"

	"github.com/harun/umile/internal/config"
	"github.com/harun/umile/pkg/pool"
	"github.com/rs/zerolog"
)

// notifyTimeout bounds the wait for completion replies still being delivered.
const notifyTimeout = 10 * time.Second

// shutdown stops intake, settles the pool according to the shutdown policy
// and flushes the collector.
//
// drain: channels stop, queued and running tasks get until the drain timeout,
// then the rest is discarded and the collector flushed.
// immediate: queued tasks are discarded and the collector flushed at once;
// running tasks keep going until the channels have stopped, then are cancelled.
func (d *Daemon) shutdown(logger zerolog.Logger) {
	drainTimeout := time.Duration(d.config.Pool.DrainTimeout) * time.Second
	deadline := time.Now().Add(drainTimeout)
	immediate := d.config.Collector.ShutdownPolicy == config.PolicyImmediate

	if immediate {
		discarded := d.pool.Shutdown()
		logger.Info().Int("discarded", discarded).Msg("Pool stopped without waiting")
		d.flush(logger)
	}

	stopCtx, cancel := context.WithDeadline(context.Background(), deadline)
	if err := d.registry.StopAll(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop channels")
	}
	cancel()

	if !immediate {
		if !d.pool.Drain(time.Until(deadline)) {
			logger.Warn().Dur("timeout", drainTimeout).Msg("Drain timed out, discarding queued tasks")
		}
		if discarded := d.pool.Shutdown(); discarded > 0 {
			logger.Warn().Int("discarded", discarded).Msg("Queued tasks discarded")
		}
	}

	if err := d.pool.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close worker pool")
	}

	if !d.dispatcher.Wait(notifyTimeout) {
		logger.Warn().Msg("Some completion replies were not delivered")
	}

	d.flush(logger)
}

// flush dumps the collector once per process lifetime.
func (d *Daemon) flush(logger zerolog.Logger) {
	d.flushOnce.Do(func() {
		path, err := d.collector.Dump(true)
		if err != nil {
			logger.Error().Err(err).Msg("Shutdown flush failed")
			return
		}
		if path != "" {
			logger.Info().Str("path", path).Msg("Collector flushed")
		}
	})
}

// dumpCollector writes and resets the collector outside of shutdown.
func (d *Daemon) dumpCollector(reason string) {
	path, err := d.collector.DumpWithContext(d.ctx, true)
	if err != nil {
		d.logger.Error().Err(err).Str("reason", reason).Msg("Collector dump failed")
		return
	}
	if path != "" {
		d.logger.Info().Str("path", path).Str("reason", reason).Msg("Collector dumped")
	}
}

// onTaskCompleted dumps after every task when collector.scope is run.
func (d *Daemon) onTaskCompleted(event pool.Event) {
	d.dumpCollector("task " + event.TaskID)
}
