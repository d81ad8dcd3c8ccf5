// Package heartbeat runs the proactive checklist tick described in
// spec.md §4.9. Grounded on internal/heartbeat/runner.go's ticker-driven
// Runner (Start/Stop/tick, config struct, event callback), generalized
// from the teacher's delivery-acknowledgment loop (queued ack text,
// retrying a DeliveryFunc) to a checklist-prompt-and-runTask loop that
// also samples coarse system state via gopsutil, per the pack's
// codeready-toolchain-tarsy and goadesign-goa-ai examples.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/haasonsaas/mama/internal/audit"
	"github.com/haasonsaas/mama/pkg/types"
)

const noChecklistPlaceholder = "(no checklist configured)"

// RunTask executes the heartbeat's built prompt, invoking an agent session,
// and returns the resulting output.
type RunTask func(ctx context.Context, prompt string) (string, error)

// SystemState is the coarse machine-state snapshot folded into the
// heartbeat prompt. Any field left at its zero value reflects a metric
// collection failure, which is tolerated rather than aborting the tick.
type SystemState struct {
	Platform    string
	UptimeSecs  uint64
	Load1       float64
	Load5       float64
	Load15      float64
	MemTotal    uint64
	MemFree     uint64
	CollectedAt time.Time
}

// Report is emitted after every tick via the optional report callback.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Output     string
	Error      string
	State      SystemState
}

// ReportFunc receives a Report after each heartbeat tick.
type ReportFunc func(Report)

// Config configures a Runner.
type Config struct {
	IntervalMinutes int
	ChecklistPath   string
}

// DefaultConfig returns the spec's default 30-minute interval.
func DefaultConfig() Config {
	return Config{IntervalMinutes: 30}
}

// Runner ticks on a fixed interval, building a checklist-plus-system-state
// prompt and handing it to an injected RunTask.
type Runner struct {
	cfg     Config
	runTask RunTask
	audit   audit.Store
	report  ReportFunc
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithLogger overrides the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReport registers a callback invoked after every tick.
func WithReport(report ReportFunc) Option {
	return func(r *Runner) { r.report = report }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a Runner.
func New(cfg Config, runTask RunTask, auditStore audit.Store, opts ...Option) *Runner {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 30
	}
	r := &Runner{
		cfg:     cfg,
		runTask: runTask,
		audit:   auditStore,
		logger:  slog.Default().With("component", "heartbeat"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the heartbeat loop in a background goroutine, ticking every
// configured interval until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.loop(ctx)
}

// Stop halts the heartbeat loop and waits for the in-flight tick, if any,
// to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()
	<-done
}

func (r *Runner) loop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		close(r.doneCh)
		r.mu.Unlock()
	}()

	interval := time.Duration(r.cfg.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Tick runs one heartbeat cycle immediately (exported for manual/test use).
func (r *Runner) Tick(ctx context.Context) Report {
	return r.tick(ctx)
}

func (r *Runner) tick(ctx context.Context) Report {
	start := r.now()
	state := collectSystemState(start)
	checklist := r.readChecklist()
	prompt := buildPrompt(checklist, state)

	var output string
	var runErr error
	if r.runTask != nil {
		output, runErr = r.runTask(ctx, prompt)
	} else {
		runErr = fmt.Errorf("heartbeat runTask not configured")
	}
	finished := r.now()

	report := Report{
		StartedAt:  start,
		FinishedAt: finished,
		Success:    runErr == nil,
		Output:     output,
		State:      state,
	}
	if runErr != nil {
		report.Error = runErr.Error()
		r.logger.Warn("heartbeat tick failed", "error", runErr)
	}

	if r.audit != nil {
		_ = r.audit.Append(ctx, types.AuditEntry{
			Capability:  "heartbeat",
			Action:      "tick",
			Decision:    types.DecisionAutoApproved,
			Result:      resultFrom(report.Success),
			Output:      output,
			Error:       report.Error,
			DurationMs:  finished.Sub(start).Milliseconds(),
			RequestedBy: "heartbeat",
		})
	}

	if r.report != nil {
		r.report(report)
	}
	return report
}

func resultFrom(success bool) types.Result {
	if success {
		return types.ResultSuccess
	}
	return types.ResultError
}

func (r *Runner) readChecklist() string {
	if r.cfg.ChecklistPath == "" {
		return noChecklistPlaceholder
	}
	contents, err := os.ReadFile(r.cfg.ChecklistPath)
	if err != nil {
		return noChecklistPlaceholder
	}
	return string(contents)
}

func buildPrompt(checklist string, state SystemState) string {
	return fmt.Sprintf(
		"Heartbeat check at %s.\nSystem: platform=%s uptime=%ds load=%.2f/%.2f/%.2f mem_free=%d/%d\n\nChecklist:\n%s",
		state.CollectedAt.Format(time.RFC3339), state.Platform, state.UptimeSecs,
		state.Load1, state.Load5, state.Load15, state.MemFree, state.MemTotal, checklist,
	)
}

// collectSystemState samples platform, uptime, load averages and memory,
// tolerating individual metric collection errors per spec.md §4.9.
func collectSystemState(now time.Time) SystemState {
	state := SystemState{CollectedAt: now}

	if info, err := host.Info(); err == nil {
		state.Platform = info.Platform
		state.UptimeSecs = info.Uptime
	}
	if avg, err := load.Avg(); err == nil {
		state.Load1 = avg.Load1
		state.Load5 = avg.Load5
		state.Load15 = avg.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		state.MemTotal = vm.Total
		state.MemFree = vm.Free
	}
	return state
}
