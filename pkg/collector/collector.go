package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/umile/internal/observability"
	"github.com/harun/umile/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	filePrefix     = "collection_"
	fileExt        = ".jsonl"
	stampLayout    = "20060102_150405"
	maxNameAttempt = 10000
)

// Message is one normalized conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entry is one recorded pipeline invocation.
type Entry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Messages  []Message       `json:"messages"`
	Output    json.RawMessage `json:"output"`
}

func (e Entry) clone() Entry {
	out := e
	out.Messages = append([]Message(nil), e.Messages...)
	out.Output = append(json.RawMessage(nil), e.Output...)
	return out
}

// Archive receives every successfully dumped batch for long-term storage.
type Archive interface {
	Store(ctx context.Context, source string, entries []Entry) error
	Close() error
}

// Config configures a Collector.
type Config struct {
	// Dir is where collection files are created. Defaults to the working directory.
	Dir string
	// Archive, when set, receives each dumped batch. Archive failures are logged only.
	Archive Archive
	Logger  zerolog.Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Collector accumulates entries for a session and flushes them on demand.
type Collector struct {
	dir     string
	archive Archive
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries []Entry

	// dumpMu serializes dumps so each entry is written by exactly one dump.
	dumpMu    sync.Mutex
	lastStamp string
	seq       int
}

// New creates a Collector.
func New(cfg Config) *Collector {
	observability.EnsureRegistered()

	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Collector{
		dir:     dir,
		archive: cfg.Archive,
		logger:  cfg.Logger.With().Str("component", "collector").Logger(),
		now:     now,
	}
}

// Dir returns the directory collection files are written to.
func (c *Collector) Dir() string {
	return c.dir
}

// Collect appends one entry built from messages and output. It never fails:
// values that cannot be normalized are stringified.
func (c *Collector) Collect(messages any, output any) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: c.now(),
		Messages:  NormalizeMessages(messages),
		Output:    NormalizeOutput(output),
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	count := len(c.entries)
	c.mu.Unlock()

	observability.RecordCollect(count)
	c.logger.Debug().
		Str("entry_id", entry.ID).
		Int("messages", len(entry.Messages)).
		Int("entries", count).
		Msg("Entry collected")

	return entry.clone()
}

// Len returns the number of entries held in memory.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the held entries in insertion order.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.clone()
	}
	return out
}

// Dump writes all held entries to a new collection file and returns its path.
// With reset, the written entries are dropped once the file is safely on disk.
// An empty collector produces no file and an empty path.
func (c *Collector) Dump(reset bool) (string, error) {
	return c.DumpWithContext(context.Background(), reset)
}

// DumpWithContext is Dump with tracing context.
func (c *Collector) DumpWithContext(ctx context.Context, reset bool) (string, error) {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	ctx, span := tracing.StartSpan(
		ctx,
		"umile.collector",
		"collector.dump",
		attribute.Bool("reset", reset),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)
	start := time.Now()

	c.mu.Lock()
	snapshot := make([]Entry, len(c.entries))
	copy(snapshot, c.entries)
	c.mu.Unlock()

	if len(snapshot) == 0 {
		logger.Debug().Msg("Nothing to dump")
		return "", nil
	}

	path, err := c.writeFile(snapshot)
	if err != nil {
		tracing.FailSpan(span, err)
		observability.RecordDump(time.Since(start), false, len(snapshot))
		logger.Error().Err(err).Int("entries", len(snapshot)).Msg("Collector dump failed")
		return "", err
	}

	if c.archive != nil {
		if err := c.archive.Store(ctx, filepath.Base(path), snapshot); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("Failed to archive dumped entries")
		}
	}

	remaining := len(snapshot)
	if reset {
		c.mu.Lock()
		// Only Dump removes entries and dumps are serialized, so the first
		// len(snapshot) entries are exactly the ones just written.
		c.entries = append([]Entry(nil), c.entries[len(snapshot):]...)
		remaining = len(c.entries)
		c.mu.Unlock()
	}

	span.SetAttributes(attribute.Int("entries", len(snapshot)), attribute.String("file", path))
	observability.RecordDump(time.Since(start), true, remaining)
	logger.Info().
		Str("file", path).
		Int("entries", len(snapshot)).
		Bool("reset", reset).
		Dur("duration", time.Since(start)).
		Msg("Collector dumped")

	return path, nil
}

func (c *Collector) writeFile(entries []Entry) (string, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create collection directory: %w", err)
	}

	path, file, err := c.createFile()
	if err != nil {
		return "", err
	}

	fail := func(err error) (string, error) {
		file.Close()
		os.Remove(path)
		return "", err
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fail(fmt.Errorf("failed to encode entry %s: %w", entry.ID, err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("failed to write collection file: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync collection file: %w", err))
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close collection file: %w", err)
	}

	return path, nil
}

// createFile exclusively creates collection_<stamp>[_n].jsonl. The suffix
// counter restarts whenever the second changes.
func (c *Collector) createFile() (string, *os.File, error) {
	stamp := c.now().Format(stampLayout)
	if stamp != c.lastStamp {
		c.lastStamp = stamp
		c.seq = 0
	}

	for n := c.seq; n < c.seq+maxNameAttempt; n++ {
		name := filePrefix + stamp
		if n > 0 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		path := filepath.Join(c.dir, name+fileExt)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			c.seq = n + 1
			return path, file, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("failed to create collection file: %w", err)
		}
	}

	return "", nil, fmt.Errorf("no free collection file name for %s", stamp)
}
