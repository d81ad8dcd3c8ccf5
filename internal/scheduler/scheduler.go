// Package scheduler implements the cron-like job engine described in
// spec.md §4.8. Grounded on internal/cron/scheduler.go's options-pattern
// Scheduler and ticking service loop, generalized from the teacher's
// static config.CronConfig job list to a mutable store-backed registry
// (createJob/enableJob/disableJob/deleteJob/runJobNow) and from its
// message/webhook/agent/custom job types to a single task-string contract
// executed through an injected runTask.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/mama/internal/audit"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/pkg/types"
)

// RunTask executes a scheduled job's task string, invoking an agent session,
// and returns the resulting output.
type RunTask func(ctx context.Context, task string) (string, error)

// Scheduler owns the job registry and the cron engine driving it.
type Scheduler struct {
	db      *store.Store
	audit   audit.Store
	runTask RunTask
	llm     ScheduleParser
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	engine  *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScheduleParser injects the LLM-backed natural-language-to-cron
// fallback used by parseSchedule.
func WithScheduleParser(parser ScheduleParser) Option {
	return func(s *Scheduler) { s.llm = parser }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Scheduler. runTask is invoked once per due job; it
// is the daemon's bridge into an agent session.
func New(db *store.Store, auditStore audit.Store, runTask RunTask, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:      db,
		audit:   auditStore,
		runTask: runTask,
		logger:  slog.Default().With("component", "scheduler"),
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads enabled jobs from the store and installs a cron task for
// each, per spec.md §4.8's registration contract.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	// SkipIfStillRunning keeps a job from overlapping itself: a firing is
	// dropped while that job's previous run is still executing.
	s.engine = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.started = true
	s.mu.Unlock()

	jobs, err := s.listJobsInternal(ctx, true)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.install(job); err != nil {
			s.logger.Warn("scheduler job install failed", "id", job.ID, "error", err)
		}
	}

	s.mu.Lock()
	s.engine.Start()
	s.mu.Unlock()
	return nil
}

// Stop halts the cron engine; pending jobs currently executing are allowed
// to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.engine == nil {
		return nil
	}
	stopCtx := s.engine.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.started = false
	s.entries = make(map[string]cron.EntryID)
	return nil
}

func (s *Scheduler) install(job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return fmt.Errorf("scheduler not started")
	}
	if existing, ok := s.entries[job.ID]; ok {
		s.engine.Remove(existing)
		delete(s.entries, job.ID)
	}
	if !job.Enabled {
		return nil
	}
	id, err := s.engine.AddFunc(job.Schedule, func() {
		s.execute(context.Background(), job.ID)
	})
	if err != nil {
		return fmt.Errorf("install cron entry: %w", err)
	}
	s.entries[job.ID] = id
	return nil
}

func (s *Scheduler) uninstall(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return
	}
	if id, ok := s.entries[jobID]; ok {
		s.engine.Remove(id)
		delete(s.entries, jobID)
	}
}

// CreateJob validates and persists a new job, installing it if enabled and
// the scheduler is running.
func (s *Scheduler) CreateJob(ctx context.Context, name, schedule, task string, enabled bool) (types.Job, error) {
	cronExpr, err := ParseSchedule(ctx, schedule, s.llm)
	if err != nil {
		return types.Job{}, err
	}
	if strings.TrimSpace(task) == "" {
		return types.Job{}, fmt.Errorf("task is required")
	}
	job := types.Job{
		ID:       uuid.NewString(),
		Name:     name,
		Type:     types.JobTypeCron,
		Schedule: cronExpr,
		Task:     task,
		Enabled:  enabled,
	}
	if err := s.insert(ctx, job); err != nil {
		return types.Job{}, err
	}
	if job.Enabled {
		s.mu.Lock()
		running := s.started
		s.mu.Unlock()
		if running {
			if err := s.install(job); err != nil {
				s.logger.Warn("scheduler job install failed", "id", job.ID, "error", err)
			}
		}
	}
	return job, nil
}

// ListJobs returns every job in the registry, enabled or not.
func (s *Scheduler) ListJobs(ctx context.Context) ([]types.Job, error) {
	return s.listJobsInternal(ctx, false)
}

// GetJob fetches a job by id.
func (s *Scheduler) GetJob(ctx context.Context, id string) (types.Job, error) {
	jobs, err := s.listJobsInternal(ctx, false)
	if err != nil {
		return types.Job{}, err
	}
	for _, job := range jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return types.Job{}, fmt.Errorf("job not found: %s", id)
}

// EnableJob flips a job's enabled flag on and installs its cron entry.
func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	if err := s.setEnabled(ctx, id, true); err != nil {
		return err
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	running := s.started
	s.mu.Unlock()
	if running {
		return s.install(job)
	}
	return nil
}

// DisableJob flips a job's enabled flag off and stops its cron entry.
func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	if err := s.setEnabled(ctx, id, false); err != nil {
		return err
	}
	s.uninstall(id)
	return nil
}

// DeleteJob removes a job from the registry and stops its cron entry.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.uninstall(id)
	_, err := s.db.Run(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// RunJobNow executes a job immediately, outside its cron schedule, per
// spec.md §4.8's run-now contract.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) (types.JobResult, error) {
	s.execute(ctx, id)
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return types.JobResult{}, err
	}
	if job.LastResult == nil {
		return types.JobResult{}, fmt.Errorf("job %s produced no result", id)
	}
	return *job.LastResult, nil
}

func (s *Scheduler) execute(ctx context.Context, jobID string) {
	start := s.now()
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn("scheduler job missing at execution", "id", jobID, "error", err)
		return
	}
	if s.runTask == nil {
		s.logger.Warn("scheduler runTask not configured", "id", jobID)
		return
	}

	output, runErr := s.runTask(ctx, job.Task)
	finishedAt := s.now()
	result := types.JobResult{
		Success:    runErr == nil,
		Output:     output,
		FinishedAt: finishedAt,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	if err := s.recordRun(ctx, job, result, finishedAt); err != nil {
		s.logger.Warn("scheduler job result persist failed", "id", jobID, "error", err)
	}

	if s.audit != nil {
		_ = s.audit.Append(ctx, types.AuditEntry{
			Capability:  "scheduler",
			Action:      "run_job",
			Resource:    job.ID,
			Decision:    types.DecisionAutoApproved,
			Result:      resultFrom(result.Success),
			DurationMs:  finishedAt.Sub(start).Milliseconds(),
			RequestedBy: "scheduler",
		})
	}
}

func resultFrom(success bool) types.Result {
	if success {
		return types.ResultSuccess
	}
	return types.ResultError
}

func (s *Scheduler) insert(ctx context.Context, job types.Job) error {
	_, err := s.db.Run(ctx, `
		INSERT INTO jobs (id, name, type, schedule, task, enabled, run_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		job.ID, job.Name, string(job.Type), job.Schedule, job.Task, boolToInt(job.Enabled))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.Run(ctx, `UPDATE jobs SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("update job enabled: %w", err)
	}
	return nil
}

func (s *Scheduler) recordRun(ctx context.Context, job types.Job, result types.JobResult, finishedAt time.Time) error {
	_, err := s.db.Run(ctx, `
		UPDATE jobs SET
			last_run = ?,
			run_count = run_count + 1,
			last_result_success = ?,
			last_result_output = ?,
			last_result_error = ?,
			last_result_finished_at = ?
		WHERE id = ?`,
		finishedAt.Format(time.RFC3339Nano), boolToInt(result.Success), result.Output, result.Error,
		finishedAt.Format(time.RFC3339Nano), job.ID)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Scheduler) listJobsInternal(ctx context.Context, enabledOnly bool) ([]types.Job, error) {
	query := `SELECT id, name, type, schedule, task, enabled, last_run, next_run, run_count,
		last_result_success, last_result_output, last_result_error, last_result_finished_at FROM jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	var jobs []types.Job
	err := s.db.All(ctx, query, func(rows *sql.Rows) error {
		job, err := scanJob(rows)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(rows *sql.Rows) (types.Job, error) {
	var job types.Job
	var jobType string
	var enabled int
	var lastRun, nextRun, lastResultFinished sql.NullString
	var lastResultSuccess sql.NullInt64
	var lastResultOutput, lastResultError sql.NullString

	if err := rows.Scan(&job.ID, &job.Name, &jobType, &job.Schedule, &job.Task, &enabled,
		&lastRun, &nextRun, &job.RunCount,
		&lastResultSuccess, &lastResultOutput, &lastResultError, &lastResultFinished); err != nil {
		return job, err
	}
	job.Type = types.JobType(jobType)
	job.Enabled = enabled != 0
	if lastRun.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastRun.String); err == nil {
			job.LastRun = &t
		}
	}
	if nextRun.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRun.String); err == nil {
			job.NextRun = &t
		}
	}
	if job.Enabled && job.NextRun == nil {
		if sched, err := cronParser.Parse(job.Schedule); err == nil {
			next := sched.Next(time.Now())
			job.NextRun = &next
		}
	}
	if lastResultSuccess.Valid {
		result := types.JobResult{
			Success: lastResultSuccess.Int64 != 0,
			Output:  lastResultOutput.String,
			Error:   lastResultError.String,
		}
		if lastResultFinished.Valid {
			if t, err := time.Parse(time.RFC3339Nano, lastResultFinished.String); err == nil {
				result.FinishedAt = t
			}
		}
		job.LastResult = &result
	}
	return job, nil
}
