// Package tagscheduler drives periodic snapshot writes on a ticker, the way
// a caller would wire WriteSnapshotIfNeeded into a long-running process's
// event loop rather than have the engine spawn its own goroutine.
package tagscheduler

import (
	"context"
	"sync"
	"time"

	"github.com/malloctag/mtag/internal/tagoutput"
	"github.com/malloctag/mtag/pkg/mtaglog"
)

// SnapshotWriter is the subset of internal/engine.Engine the runner needs;
// defined here so tagscheduler doesn't import engine for its whole surface.
type SnapshotWriter interface {
	WriteSnapshotIfNeeded(ctx context.Context, format tagoutput.Format, prefix string) (bool, error)
}

// Config holds the interval runner's tunables.
type Config struct {
	PollInterval time.Duration
	Format       tagoutput.Format
	Prefix       string
}

// DefaultConfig returns a 1-second poll interval, matching the snapshot
// tests' common fixture.
func DefaultConfig() *Config {
	return &Config{PollInterval: time.Second}
}

// IntervalRunner calls WriteSnapshotIfNeeded on a ticker until Stop is
// called or its context is cancelled. It does not start its own goroutine
// implicitly: the caller invokes Start to do so, matching the engine's own
// "no work on its own thread" discipline.
type IntervalRunner struct {
	cfg    *Config
	writer SnapshotWriter
	logger mtaglog.Logger
	clock  mtaglog.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	written int
}

// New creates an IntervalRunner. A nil config falls back to DefaultConfig,
// a nil logger to a no-op logger, and a nil clock to the real wall clock.
func New(cfg *Config, writer SnapshotWriter, logger mtaglog.Logger, clock mtaglog.Clock) *IntervalRunner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = &mtaglog.NullLogger{}
	}
	if clock == nil {
		clock = mtaglog.NewRealClock()
	}
	return &IntervalRunner{cfg: cfg, writer: writer, logger: logger, clock: clock}
}

// Start begins polling in a new goroutine. Calling Start twice without an
// intervening Stop is a no-op.
func (r *IntervalRunner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop signals the polling goroutine to exit and waits for it to finish.
func (r *IntervalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
}

// WrittenCount returns how many snapshots this runner has written so far.
func (r *IntervalRunner) WrittenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

func (r *IntervalRunner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			wrote, err := r.writer.WriteSnapshotIfNeeded(ctx, r.cfg.Format, r.cfg.Prefix)
			if err != nil {
				r.logger.WithField("format", r.cfg.Format).Warn("tagscheduler: snapshot write failed: %v", err)
				continue
			}
			if wrote {
				r.mu.Lock()
				r.written++
				r.mu.Unlock()
			}
		}
	}
}
