package consolidation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig tunes the periodic consolidation tick.
type SchedulerConfig struct {
	IntervalHours int
	Options       Options
	MinEpisodes   int
}

// DefaultSchedulerConfig returns a conservative hourly tick.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{IntervalHours: 1, MinEpisodes: 5}
}

// Scheduler fires the consolidation engine on a fixed interval, per
// spec.md §4.7.7: a tick skips when a run is already in progress or the
// engine reports not idle.
type Scheduler struct {
	engine *Engine
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler constructs a consolidation Scheduler.
func NewScheduler(engine *Engine, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.IntervalHours < 1 {
		// The interval has hour granularity: 0 or a negative value means
		// the one-hour default.
		cfg.IntervalHours = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: engine, cfg: cfg, logger: logger.With("component", "consolidation.scheduler")}
}

// Start begins ticking in a background goroutine until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.doneCh)
		s.mu.Unlock()
	}()

	interval := time.Duration(s.cfg.IntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.engine.IsIdle() {
		s.logger.Debug("skipping consolidation tick: run already in progress")
		return
	}
	report, err := s.engine.Run(ctx, s.cfg.Options, s.cfg.MinEpisodes)
	if err != nil {
		s.logger.Warn("consolidation tick failed", "error", err)
		return
	}
	if report.Skipped {
		s.logger.Debug("consolidation tick skipped", "reason", report.SkipReason)
		return
	}
	s.logger.Info("consolidation tick complete",
		"new", report.NewCount, "reinforced", report.ReinforceCount,
		"updated", report.UpdateCount, "contradicted", report.ContradictCount)
}
